package cluster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notdabob/proxmox-ve-toolkit/internal/config"
	"github.com/notdabob/proxmox-ve-toolkit/internal/remote/remotetest"
)

func testConfig() *config.MigrationConfig {
	return &config.MigrationConfig{
		Timestamp:             "20260830-120000",
		ClusterName:           "rg-cluster",
		BackupServiceID:       200,
		BackupServiceMemoryMB: 4096,
		Nodes: map[string]config.Node{
			"pm1":       {Name: "pm1", Address: "192.168.1.10", Hostname: "pm1", Interfaces: []string{"eno1", "eno2"}, Role: config.RoleClusterRoot},
			"rg-prox01": {Name: "rg-prox01", Address: "192.168.1.11", Hostname: "rg-prox01", Interfaces: []string{"eno1", "eno2"}, Role: config.RoleMigrationSource},
			"rg-prox03": {Name: "rg-prox03", Address: "192.168.1.12", Hostname: "rg-prox03", Interfaces: []string{"eno1", "eno2"}, Role: config.RoleBackupNAS},
		},
	}
}

func TestFormCreatesThenJoinsBackup(t *testing.T) {
	r := &remotetest.Runner{}
	require.NoError(t, Form(context.Background(), r, testConfig()))

	require.Len(t, r.Calls, 2)
	assert.Equal(t, "192.168.1.10", r.Calls[0].Host)
	assert.Equal(t, "pvecm create rg-cluster", r.Calls[0].Command)
	assert.Equal(t, "192.168.1.12", r.Calls[1].Host)
	assert.Equal(t, "pvecm add 192.168.1.10 --use_ssh", r.Calls[1].Command)

	// The source node must not be touched during cluster formation.
	assert.Empty(t, r.CommandsFor("192.168.1.11"))
}

func TestFormAbortsOnCreateFailure(t *testing.T) {
	r := &remotetest.Runner{
		OnMutate: func(host, cmd string) (string, string, error) {
			return "", "cluster config already exists", errors.New("exit 1")
		},
	}

	err := Form(context.Background(), r, testConfig())
	require.Error(t, err)
	// Join is never attempted once create fails.
	assert.Len(t, r.Calls, 1)
}

func TestJoinSource(t *testing.T) {
	r := &remotetest.Runner{}
	require.NoError(t, JoinSource(context.Background(), r, testConfig()))

	require.Len(t, r.Calls, 1)
	assert.Equal(t, "192.168.1.11", r.Calls[0].Host)
	assert.Equal(t, "pvecm add 192.168.1.10 --use_ssh", r.Calls[0].Command)
}
