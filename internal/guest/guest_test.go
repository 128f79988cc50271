package guest

import (
	"context"
	csvpkg "encoding/csv"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notdabob/proxmox-ve-toolkit/internal/config"
	"github.com/notdabob/proxmox-ve-toolkit/internal/remote"
	"github.com/notdabob/proxmox-ve-toolkit/internal/remote/remotetest"
	"github.com/notdabob/proxmox-ve-toolkit/internal/report"
)

const qmListOut = `      VMID NAME                 STATUS     MEM(MB)    BOOTDISK(GB) PID
       100 web-server           running    2048              32.00 1234
       101 db-server            stopped    4096              64.00 0
`

const pctListOut = `VMID       Status     Lock         Name
102        running                 proxy-ct
103        stopped                 cache-ct
`

func testNode() config.Node {
	return config.Node{Name: "rg-prox01", Address: "192.168.1.11", Hostname: "rg-prox01",
		Interfaces: []string{"eno1", "eno2"}, Role: config.RoleMigrationSource}
}

// fakeClock advances virtual time on every sleep so timeout behavior is
// testable without waiting.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time        { return c.t }
func (c *fakeClock) sleep(d time.Duration) { c.t = c.t.Add(d) }

func newTestController(r *remotetest.Runner) (*Controller, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	c := NewController(r)
	c.now = clock.now
	c.sleep = clock.sleep
	return c, clock
}

func TestParseList(t *testing.T) {
	vms := parseList("rg-prox01", KindVM, qmListOut)
	require.Len(t, vms, 2)
	assert.Equal(t, Record{Node: "rg-prox01", Kind: KindVM, ID: 100, Name: "web-server", Status: "running"}, vms[0])
	assert.False(t, vms[1].Running())

	cts := parseList("rg-prox01", KindContainer, pctListOut)
	require.Len(t, cts, 2)
	assert.Equal(t, Record{Node: "rg-prox01", Kind: KindContainer, ID: 102, Name: "proxy-ct", Status: "running"}, cts[0])

	assert.Empty(t, parseList("rg-prox01", KindVM, "VMID NAME STATUS\n"))
}

func TestStopOneDryRunSkipsPoll(t *testing.T) {
	r := &remotetest.Runner{
		OnRun: func(host, cmd string) (string, string, error) {
			if strings.HasPrefix(cmd, "qm status") {
				return "status: running", "", nil
			}
			return "", "", nil
		},
	}
	clock := &fakeClock{t: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	c := NewController(&remote.DryRunner{Inner: r})
	c.now = clock.now
	c.sleep = clock.sleep

	res := c.StopOne(context.Background(), testNode(), Record{Kind: KindVM, ID: 100, Name: "web-server", Node: "rg-prox01", Status: "running"})
	assert.Equal(t, ResultSuccess, res.Result)
	assert.Zero(t, res.Seconds)
	// The suppressed shutdown never reaches the transport and the guest is
	// never polled.
	assert.Empty(t, r.Calls)
}

func TestStopOneSuccess(t *testing.T) {
	polls := 0
	r := &remotetest.Runner{
		OnRun: func(host, cmd string) (string, string, error) {
			if strings.HasPrefix(cmd, "qm status") {
				polls++
				if polls >= 3 {
					return "status: stopped", "", nil
				}
				return "status: running", "", nil
			}
			return "", "", nil
		},
	}
	c, _ := newTestController(r)

	res := c.StopOne(context.Background(), testNode(), Record{Kind: KindVM, ID: 100, Name: "web-server", Node: "rg-prox01", Status: "running"})

	assert.Equal(t, ResultSuccess, res.Result)
	assert.Equal(t, 1, r.MutationsMatching("qm shutdown 100"))
	assert.Zero(t, r.MutationsMatching("qm stop 100"))
}

func TestStopOneTimeout(t *testing.T) {
	r := &remotetest.Runner{
		OnRun: func(host, cmd string) (string, string, error) {
			if strings.HasPrefix(cmd, "qm status") {
				return "status: running", "", nil
			}
			return "", "", nil
		},
	}
	c, _ := newTestController(r)

	res := c.StopOne(context.Background(), testNode(), Record{Kind: KindVM, ID: 100, Name: "web-server", Node: "rg-prox01", Status: "running"})

	assert.Equal(t, ResultTimeout, res.Result)
	// Polling granularity: elapsed lands within one interval past the cap.
	assert.GreaterOrEqual(t, res.Seconds, 300)
	assert.LessOrEqual(t, res.Seconds, 305)
	// Exactly one forced stop, fire and forget.
	assert.Equal(t, 1, r.MutationsMatching("qm stop 100"))
}

func TestStopOneShutdownCommandError(t *testing.T) {
	r := &remotetest.Runner{
		OnMutate: func(host, cmd string) (string, string, error) {
			if strings.HasPrefix(cmd, "pct shutdown") {
				return "", "busy", errors.New("exit 1")
			}
			return "", "", nil
		},
	}
	c, _ := newTestController(r)

	res := c.StopOne(context.Background(), testNode(), Record{Kind: KindContainer, ID: 102, Name: "proxy-ct", Status: "running"})
	assert.Equal(t, ResultError, res.Result)
}

func TestStopAllSkipsUnreachableNode(t *testing.T) {
	down := testNode()
	up := config.Node{Name: "rg-prox03", Address: "192.168.1.12", Hostname: "rg-prox03",
		Interfaces: []string{"eno1", "eno2"}, Role: config.RoleBackupNAS}

	r := &remotetest.Runner{
		OnRun: func(host, cmd string) (string, string, error) {
			if host == down.Address {
				return "", "", errors.New("connection refused")
			}
			switch {
			case cmd == "qm list":
				return qmListOut, "", nil
			case cmd == "pct list":
				return "VMID Status Lock Name\n", "", nil
			case strings.HasPrefix(cmd, "qm status"):
				return "status: stopped", "", nil
			}
			return "", "", nil
		},
	}
	c, _ := newTestController(r)

	dir := t.TempDir()
	csv, err := report.NewCSV(dir, "shutdown", "ts", ShutdownHeader)
	require.NoError(t, err)

	err = c.StopAll(context.Background(), []config.Node{down, up}, csv)
	require.NoError(t, err)
	require.NoError(t, csv.Close())

	rows := readRows(t, csv.Path())
	// Header + unreachable marker + one running VM on the healthy node.
	require.Len(t, rows, 3)
	assert.Equal(t, "ERROR", rows[1][4])
	assert.Equal(t, down.Name, rows[1][0])
	assert.Equal(t, "100", rows[2][2])
	assert.Equal(t, "SUCCESS", rows[2][4])
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csvpkg.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
