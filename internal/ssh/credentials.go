package ssh

import (
	"os"
	"path/filepath"

	"github.com/notdabob/proxmox-ve-toolkit/internal/prompt"
)

// Credential env vars. PVE_SSH_PASSWORD_PROMPT=1 forces an interactive
// password prompt instead of key-based auth; cmd/pvemigrate loads them from
// a .env file when present.
const (
	envUser           = "PVE_SSH_USER"
	envPrivateKey     = "PVE_SSH_KEY"
	envPasswordPrompt = "PVE_SSH_PASSWORD_PROMPT"
)

// Credentials resolves the reusable identity used against every node:
// key-based as root by default, overridable through the environment. When
// the password-prompt escape hatch is set, the secret is asked for once and
// reused for all nodes.
func Credentials(p prompt.Prompter) (AuthConfig, error) {
	user := os.Getenv(envUser)
	if user == "" {
		user = "root"
	}

	auth := AuthConfig{Username: user}

	if os.Getenv(envPasswordPrompt) == "1" {
		password, err := p.Ask("SSH password for "+user, "")
		if err != nil {
			return AuthConfig{}, err
		}
		auth.Password = password
		return auth, nil
	}

	keyPath := os.Getenv(envPrivateKey)
	if keyPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			keyPath = filepath.Join(home, ".ssh", "id_rsa")
		}
	}
	auth.PrivateKeyPath = keyPath
	return auth, nil
}
