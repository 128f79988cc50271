// Package preflight validates node reachability and platform version, and
// captures the configuration backups that rollback depends on. It runs
// before any mutating phase; a failure here ends the run while the fleet is
// still untouched.
package preflight

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/notdabob/proxmox-ve-toolkit/internal/config"
	"github.com/notdabob/proxmox-ve-toolkit/internal/logging"
	"github.com/notdabob/proxmox-ve-toolkit/internal/prompt"
	"github.com/notdabob/proxmox-ve-toolkit/internal/remote"
)

// ProbeTimeout bounds the per-node connectivity probe. An unreachable node
// must fail the run fast, before any remote command is issued anywhere.
const ProbeTimeout = 3 * time.Second

// ExpectedVersion is the platform major.minor this workflow was validated
// against. Mismatches are operator-confirmable, not automatically fatal.
const ExpectedVersion = "8.2"

// NodeBackup holds the local copies of one node's network files captured at
// preflight. They are the sole input to rollback's network restoration.
type NodeBackup struct {
	Interfaces string
	Hosts      string
}

// Checker validates nodes and captures backups.
type Checker struct {
	Runner   remote.Runner
	Prompter prompt.Prompter
	// BackupsDir is where pulled files land, keyed node+timestamp.
	BackupsDir string
	Timestamp  string
}

var versionRe = regexp.MustCompile(`pve-manager/(\d+\.\d+)`)

// Check validates every node in registry order and returns the per-node
// backups. It is fatal on the first failing node: proceeding without full
// reachability or without backups would make rollback impossible.
func (c *Checker) Check(ctx context.Context, nodes []config.Node) (map[string]NodeBackup, error) {
	log := logging.L().With("component", "preflight")
	backups := make(map[string]NodeBackup, len(nodes))

	// Probe the whole fleet before issuing any command anywhere: the run
	// must not touch a reachable node when another member is down.
	for _, node := range nodes {
		log.Infow("probing node", "node", node.Name, "address", node.Address)
		if err := c.Runner.Probe(ctx, node.Address, ProbeTimeout); err != nil {
			return nil, fmt.Errorf("preflight probe failed for %s: %w", node.Name, err)
		}
	}

	for _, node := range nodes {
		if err := c.checkVersion(ctx, node); err != nil {
			return nil, err
		}

		backup, err := c.backupNode(ctx, node)
		if err != nil {
			return nil, fmt.Errorf("preflight backup failed for %s: %w", node.Name, err)
		}
		backups[node.Name] = backup
		log.Infow("node passed preflight", "node", node.Name)
	}

	return backups, nil
}

func (c *Checker) checkVersion(ctx context.Context, node config.Node) error {
	stdout, stderr, err := c.Runner.Run(ctx, node.Address, "pveversion")
	if err != nil {
		return fmt.Errorf("failed to query platform version on %s: %w (stderr: %s)", node.Name, err, stderr)
	}

	m := versionRe.FindStringSubmatch(stdout)
	found := ""
	if m != nil {
		found = m[1]
	}
	if found == ExpectedVersion {
		return nil
	}

	logging.L().Warnw("platform version mismatch",
		"node", node.Name, "found", strings.TrimSpace(stdout), "expected", ExpectedVersion)

	question := fmt.Sprintf("Node %s reports version %q, expected %s. Continue anyway?", node.Name, found, ExpectedVersion)
	ok, err := c.Prompter.Confirm(question)
	if err != nil {
		return fmt.Errorf("version confirmation unavailable for %s: %w", node.Name, err)
	}
	if !ok {
		return fmt.Errorf("version mismatch on %s not confirmed by operator", node.Name)
	}
	return nil
}

// backupNode makes remote timestamped copies of the network files, then
// pulls both down into the local backup store.
func (c *Checker) backupNode(ctx context.Context, node config.Node) (NodeBackup, error) {
	remoteCopies := fmt.Sprintf(
		"cp /etc/network/interfaces /etc/network/interfaces.%s.bak && cp /etc/hosts /etc/hosts.%s.bak",
		c.Timestamp, c.Timestamp)
	if _, stderr, err := c.Runner.Mutate(ctx, node.Address, remoteCopies); err != nil {
		return NodeBackup{}, fmt.Errorf("remote copy failed: %w (stderr: %s)", err, stderr)
	}

	backup := NodeBackup{
		Interfaces: filepath.Join(c.BackupsDir, fmt.Sprintf("%s_interfaces_%s", node.Name, c.Timestamp)),
		Hosts:      filepath.Join(c.BackupsDir, fmt.Sprintf("%s_hosts_%s", node.Name, c.Timestamp)),
	}

	if err := c.Runner.CopyDown(ctx, node.Address, "/etc/network/interfaces", backup.Interfaces); err != nil {
		return NodeBackup{}, err
	}
	if err := c.Runner.CopyDown(ctx, node.Address, "/etc/hosts", backup.Hosts); err != nil {
		return NodeBackup{}, err
	}
	return backup, nil
}
