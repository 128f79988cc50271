package ssh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notdabob/proxmox-ve-toolkit/internal/prompt"
)

func TestHostAddr(t *testing.T) {
	assert.Equal(t, "192.168.1.10:22", hostAddr("192.168.1.10", 0))
	assert.Equal(t, "192.168.1.10:2222", hostAddr("192.168.1.10", 2222))
	assert.Equal(t, "192.168.1.10:22", hostAddr("192.168.1.10:22", 0))
}

func TestCredentialsDefaults(t *testing.T) {
	t.Setenv("PVE_SSH_USER", "")
	t.Setenv("PVE_SSH_KEY", "")
	t.Setenv("PVE_SSH_PASSWORD_PROMPT", "")

	auth, err := Credentials(&prompt.NonInteractive{})
	require.NoError(t, err)
	assert.Equal(t, "root", auth.Username)
	assert.Empty(t, auth.Password)
	assert.Contains(t, auth.PrivateKeyPath, ".ssh")
}

func TestCredentialsEnvOverrides(t *testing.T) {
	t.Setenv("PVE_SSH_USER", "operator")
	t.Setenv("PVE_SSH_KEY", "/keys/migration")
	t.Setenv("PVE_SSH_PASSWORD_PROMPT", "")

	auth, err := Credentials(&prompt.NonInteractive{})
	require.NoError(t, err)
	assert.Equal(t, "operator", auth.Username)
	assert.Equal(t, "/keys/migration", auth.PrivateKeyPath)
}

func TestCredentialsPasswordPrompt(t *testing.T) {
	t.Setenv("PVE_SSH_USER", "root")
	t.Setenv("PVE_SSH_PASSWORD_PROMPT", "1")

	// NonInteractive.Ask returns the default, which is empty here; the
	// point is that the key path is not used in prompt mode.
	auth, err := Credentials(&prompt.NonInteractive{})
	require.NoError(t, err)
	assert.Empty(t, auth.PrivateKeyPath)
}
