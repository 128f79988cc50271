package remote

import (
	"context"
	"time"

	"github.com/notdabob/proxmox-ve-toolkit/internal/logging"
)

// DryRunner wraps a Runner and suppresses every mutating command while
// still performing reads and probes, so benchmarks and enumerations keep
// working during a rehearsal run.
type DryRunner struct {
	Inner Runner
}

// Run delegates to the wrapped Runner; reads are safe in dry-run mode.
func (d *DryRunner) Run(ctx context.Context, host, command string) (string, string, error) {
	return d.Inner.Run(ctx, host, command)
}

// Mutate logs the command that would have run and reports success without
// touching the node.
func (d *DryRunner) Mutate(_ context.Context, host, command string) (string, string, error) {
	logging.L().Infow("dry-run: skipping mutating command", "node", host, "command", command)
	return "", "", nil
}

// CopyDown delegates to the wrapped Runner; pulling files is read-only on
// the remote side.
func (d *DryRunner) CopyDown(ctx context.Context, host, remotePath, localPath string) error {
	return d.Inner.CopyDown(ctx, host, remotePath, localPath)
}

// Probe delegates to the wrapped Runner.
func (d *DryRunner) Probe(ctx context.Context, host string, timeout time.Duration) error {
	return d.Inner.Probe(ctx, host, timeout)
}
