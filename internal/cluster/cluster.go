// Package cluster forms the Proxmox cluster in the fixed order the
// migration requires: create on the root node, join the backup node, and
// join the source node only after its guests have been moved off.
package cluster

import (
	"context"
	"fmt"
	"strings"

	"github.com/notdabob/proxmox-ve-toolkit/internal/config"
	"github.com/notdabob/proxmox-ve-toolkit/internal/logging"
	"github.com/notdabob/proxmox-ve-toolkit/internal/remote"
)

// Form creates the cluster on the root node and joins the backup node.
// Each step is a single remote command with no retry; a half-formed cluster
// is unsafe to leave standing, so any failure aborts the phase and lets the
// orchestrator roll back.
func Form(ctx context.Context, r remote.Runner, cfg *config.MigrationConfig) error {
	log := logging.L().With("component", "cluster")

	root, err := cfg.ByRole(config.RoleClusterRoot)
	if err != nil {
		return err
	}
	backup, err := cfg.ByRole(config.RoleBackupNAS)
	if err != nil {
		return err
	}

	log.Infow("creating cluster on root node", "node", root.Name, "cluster", cfg.ClusterName)
	createCmd := fmt.Sprintf("pvecm create %s", cfg.ClusterName)
	if stdout, stderr, err := r.Mutate(ctx, root.Address, createCmd); err != nil {
		return fmt.Errorf("failed to create cluster on %s: %w (stderr: %s)", root.Name, err, stderr)
	} else if out := strings.TrimSpace(stdout); out != "" {
		log.Debugw("pvecm create output", "output", out)
	}

	log.Infow("joining backup node", "node", backup.Name, "root", root.Address)
	if _, stderr, err := r.Mutate(ctx, backup.Address, joinCmd(root)); err != nil {
		return fmt.Errorf("failed to join %s to cluster: %w (stderr: %s)", backup.Name, err, stderr)
	}

	// The source node is joined by JoinSource after migration; pulling it
	// in now would disrupt guests that are still being moved.
	return nil
}

// JoinSource joins the migration-source node once its guests have been
// transferred off.
func JoinSource(ctx context.Context, r remote.Runner, cfg *config.MigrationConfig) error {
	root, err := cfg.ByRole(config.RoleClusterRoot)
	if err != nil {
		return err
	}
	source, err := cfg.ByRole(config.RoleMigrationSource)
	if err != nil {
		return err
	}

	logging.L().Infow("joining source node post-migration", "node", source.Name, "root", root.Address)
	if _, stderr, err := r.Mutate(ctx, source.Address, joinCmd(root)); err != nil {
		return fmt.Errorf("failed to join %s to cluster: %w (stderr: %s)", source.Name, err, stderr)
	}
	return nil
}

func joinCmd(root config.Node) string {
	return fmt.Sprintf("pvecm add %s --use_ssh", root.Address)
}
