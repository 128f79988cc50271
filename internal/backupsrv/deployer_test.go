package backupsrv

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notdabob/proxmox-ve-toolkit/internal/config"
	"github.com/notdabob/proxmox-ve-toolkit/internal/remote/remotetest"
)

var backupNode = config.Node{
	Name:       "rg-prox03",
	Address:    "192.168.1.12",
	Hostname:   "rg-prox03",
	Interfaces: []string{"eno1", "eno2"},
	Role:       config.RoleBackupNAS,
}

func TestDeployRunsDownloadCreateStartInOrder(t *testing.T) {
	r := &remotetest.Runner{}
	d := &Deployer{Runner: r}

	err := d.Deploy(context.Background(), backupNode, 200, 4096)
	require.NoError(t, err)

	cmds := r.CommandsFor("192.168.1.12")
	require.Len(t, cmds, 3)
	assert.True(t, strings.HasPrefix(cmds[0], "wget "), cmds[0])
	assert.Contains(t, cmds[0], DefaultISOURL)
	assert.True(t, strings.HasPrefix(cmds[1], "qm create 200 "), cmds[1])
	assert.Contains(t, cmds[1], "--memory 4096")
	assert.Contains(t, cmds[1], "--boot order=ide2")
	assert.Equal(t, "qm start 200", cmds[2])

	for _, c := range r.Calls {
		assert.True(t, c.Mutate, c.Command)
	}
}

func TestDeployCustomImageURL(t *testing.T) {
	r := &remotetest.Runner{}
	d := &Deployer{Runner: r, ISOURL: "https://mirror.local/pbs.iso"}

	err := d.Deploy(context.Background(), backupNode, 200, 4096)
	require.NoError(t, err)

	cmds := r.CommandsFor("192.168.1.12")
	require.NotEmpty(t, cmds)
	assert.Contains(t, cmds[0], "https://mirror.local/pbs.iso")
}

func TestDeployCreateFailureStopsBeforeStart(t *testing.T) {
	r := &remotetest.Runner{
		OnRun: func(host, cmd string) (string, string, error) {
			if strings.HasPrefix(cmd, "qm create") {
				return "", "unable to create VM 200", errors.New("exit status 2")
			}
			return "", "", nil
		},
	}
	d := &Deployer{Runner: r}

	err := d.Deploy(context.Background(), backupNode, 200, 4096)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to create VM 200")
	assert.Zero(t, r.MutationsMatching("qm start"))
}
