// Package rollback is the orchestrator's failure path: restore network
// configuration from the preflight backups, re-sync guest state, and tear
// down partial cluster state. It is a single best-effort sweep that aims
// for a safe fleet, not a fully original one.
package rollback

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/notdabob/proxmox-ve-toolkit/internal/config"
	"github.com/notdabob/proxmox-ve-toolkit/internal/guest"
	"github.com/notdabob/proxmox-ve-toolkit/internal/logging"
	"github.com/notdabob/proxmox-ve-toolkit/internal/preflight"
	"github.com/notdabob/proxmox-ve-toolkit/internal/remote"
)

// cleanupCmds are the per-node cluster teardown commands. Each one is fire
// and forget: failing to clean one node must not prevent attempting the
// others.
var cleanupCmds = []string{
	"systemctl stop pve-cluster corosync",
	"rm -f /etc/pve/corosync.conf",
	"rm -rf /etc/corosync/*",
}

// Coordinator performs the rollback sweep.
type Coordinator struct {
	Runner  remote.Runner
	Guests  *guest.Controller
	Backups map[string]preflight.NodeBackup
}

// Rollback restores each backed-up node's interfaces file and restarts its
// networking, stops all guests as a re-sync step (a partially migrated
// fleet must not leave a guest running in two places), and finally strips
// cluster state from every node. Individual failures are logged and
// swallowed so every node gets its attempt.
func (c *Coordinator) Rollback(ctx context.Context, nodes []config.Node) {
	log := logging.L().With("component", "rollback")
	log.Warnw("starting rollback sweep", "nodes", len(nodes))

	for _, node := range nodes {
		backup, ok := c.Backups[node.Name]
		if !ok {
			log.Warnw("no preflight backup for node; skipping network restore", "node", node.Name)
			continue
		}
		if err := c.restoreNetwork(ctx, node, backup); err != nil {
			log.Errorw("network restore failed", "node", node.Name, "err", err)
		} else {
			log.Infow("network configuration restored", "node", node.Name)
		}
	}

	// Re-sync guest state. This stops guests rather than restarting them;
	// the safe end state after a failed migration is everything down until
	// the operator inspects both sides.
	if err := c.Guests.StopAll(ctx, nodes, nil); err != nil {
		log.Errorw("guest re-sync failed", "err", err)
	}

	for _, node := range nodes {
		for _, cmd := range cleanupCmds {
			outcome := remote.Attempt(ctx, c.Runner, node.Address, cmd)
			if !outcome.Succeeded {
				log.Warnw("cluster cleanup command failed",
					"node", node.Name, "command", cmd, "err", outcome.Err)
			}
		}
		log.Infow("cluster state cleanup attempted", "node", node.Name)
	}

	log.Warnw("rollback sweep finished; fleet should be non-clustered with networking restored")
}

// restoreNetwork pushes the locally held interfaces backup over the live
// file and restarts networking.
func (c *Coordinator) restoreNetwork(ctx context.Context, node config.Node, backup preflight.NodeBackup) error {
	content, err := os.ReadFile(backup.Interfaces)
	if err != nil {
		return fmt.Errorf("failed to read local backup %s: %w", backup.Interfaces, err)
	}

	// base64 carries the exact backup bytes over the exec channel; the
	// restore must survive content a heredoc delimiter would mangle.
	encoded := base64.StdEncoding.EncodeToString(content)
	stage := fmt.Sprintf("echo %s | base64 -d > /tmp/interfaces.restore", encoded)
	if _, stderr, err := c.Runner.Mutate(ctx, node.Address, stage); err != nil {
		return fmt.Errorf("failed to stage restore file: %w (stderr: %s)", err, stderr)
	}

	apply := "mv /tmp/interfaces.restore /etc/network/interfaces && systemctl restart networking"
	if _, stderr, err := c.Runner.Mutate(ctx, node.Address, apply); err != nil {
		return fmt.Errorf("failed to apply restore file: %w (stderr: %s)", err, stderr)
	}
	return nil
}
