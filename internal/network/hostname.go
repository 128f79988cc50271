package network

import (
	"context"
	"fmt"
	"strings"

	"github.com/notdabob/proxmox-ve-toolkit/internal/config"
	"github.com/notdabob/proxmox-ve-toolkit/internal/logging"
	"github.com/notdabob/proxmox-ve-toolkit/internal/remote"
)

// ApplyHostnameIPChanges brings each node's live hostname and /etc/hosts
// entry in line with the registry. Nodes that already match are skipped, so
// a re-run after a partial failure is safe. The files touched here are
// covered by the preflight backups.
func ApplyHostnameIPChanges(ctx context.Context, r remote.Runner, nodes []config.Node) error {
	log := logging.L().With("component", "network", "step", "hostname")

	for _, node := range nodes {
		current, _, err := r.Run(ctx, node.Address, "hostname")
		if err != nil {
			return fmt.Errorf("failed to read hostname on %s: %w", node.Name, err)
		}
		current = strings.TrimSpace(current)

		if current == node.Hostname {
			log.Debugw("hostname already set", "node", node.Name, "hostname", current)
		} else {
			cmd := fmt.Sprintf("hostnamectl set-hostname %s", node.Hostname)
			if _, stderr, err := r.Mutate(ctx, node.Address, cmd); err != nil {
				return fmt.Errorf("failed to set hostname on %s: %w (stderr: %s)", node.Name, err, stderr)
			}
			log.Infow("hostname updated", "node", node.Name, "old", current, "new", node.Hostname)
		}

		if err := ensureHostsEntry(ctx, r, node); err != nil {
			return err
		}
	}
	return nil
}

// ensureHostsEntry rewrites the node's own /etc/hosts line to its
// registry address. Stale lines for the hostname are dropped first so
// repeated runs converge on a single entry.
func ensureHostsEntry(ctx context.Context, r remote.Runner, node config.Node) error {
	entry := fmt.Sprintf("%s %s", node.Address, node.Hostname)

	check := fmt.Sprintf("grep -qx %q /etc/hosts", entry)
	if _, _, err := r.Run(ctx, node.Address, check); err == nil {
		return nil
	}

	cmd := fmt.Sprintf("sed -i '/\\s%s$/d' /etc/hosts && echo %q >> /etc/hosts", node.Hostname, entry)
	if _, stderr, err := r.Mutate(ctx, node.Address, cmd); err != nil {
		return fmt.Errorf("failed to update /etc/hosts on %s: %w (stderr: %s)", node.Name, err, stderr)
	}
	return nil
}
