// Package config holds the node registry for one migration run: the three
// participating Proxmox nodes, the cluster identity, and the backup-server
// guest parameters. A run either loads a previously persisted file or
// builds one interactively; either way the registry is immutable once
// preflight starts.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Role identifies a node's part in the fixed three-role topology.
type Role string

const (
	RoleClusterRoot     Role = "cluster-root"
	RoleMigrationSource Role = "migration-source"
	RoleBackupNAS       Role = "backup-nas"
)

// TimestampLayout is the run timestamp used in file names and the persisted
// config.
const TimestampLayout = "20060102-150405"

var (
	// ErrConfigParse reports malformed or invalid configuration content.
	ErrConfigParse = errors.New("config parse error")
	// ErrInsufficientInterfaces reports a node with fewer than the two
	// physical interfaces bonding requires.
	ErrInsufficientInterfaces = errors.New("node needs at least 2 interfaces for bonding")
)

// Node is one cluster member. Interfaces keeps the operator-supplied order;
// the bond enumerates them in that order.
type Node struct {
	Name       string   `json:"-" yaml:"-"`
	Address    string   `json:"address" yaml:"address"`
	Hostname   string   `json:"hostname" yaml:"hostname"`
	Interfaces []string `json:"interfaces" yaml:"interfaces"`
	Role       Role     `json:"role" yaml:"role"`
}

// MigrationConfig is the persisted registry for one run. Persisting it
// immediately after the wizard finishes is the resumability checkpoint: a
// failed run is retried by replaying the same file.
type MigrationConfig struct {
	Timestamp             string          `json:"timestamp" yaml:"timestamp"`
	ClusterName           string          `json:"clusterName" yaml:"clusterName"`
	BackupServiceID       int             `json:"backupServiceId" yaml:"backupServiceId"`
	BackupServiceMemoryMB int             `json:"backupServiceMemoryMB" yaml:"backupServiceMemoryMB"`
	Nodes                 map[string]Node `json:"nodes" yaml:"nodes"`
}

var roleRank = map[Role]int{
	RoleClusterRoot:     0,
	RoleMigrationSource: 1,
	RoleBackupNAS:       2,
}

// Ordered returns the nodes in the deterministic phase-processing order:
// cluster root first, then migration source, then backup, ties broken by
// name.
func (c *MigrationConfig) Ordered() []Node {
	nodes := make([]Node, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		ri, rj := roleRank[nodes[i].Role], roleRank[nodes[j].Role]
		if ri != rj {
			return ri < rj
		}
		return nodes[i].Name < nodes[j].Name
	})
	return nodes
}

// ByRole looks up the node holding the given role. Phase logic addresses
// nodes by role so topology names stay data, not code.
func (c *MigrationConfig) ByRole(role Role) (Node, error) {
	for _, n := range c.Nodes {
		if n.Role == role {
			return n, nil
		}
	}
	return Node{}, fmt.Errorf("%w: no node with role %q", ErrConfigParse, role)
}

// Load reads and validates a persisted configuration. YAML is accepted for
// hand-written files; the wizard always persists JSON.
func Load(path string) (*MigrationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg MigrationConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigParse, path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigParse, path, err)
		}
	}

	for name, n := range cfg.Nodes {
		n.Name = name
		cfg.Nodes[name] = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the registry invariants: all three roles present, every
// node addressable, every node bondable.
func (c *MigrationConfig) Validate() error {
	if c.ClusterName == "" {
		return fmt.Errorf("%w: clusterName is required", ErrConfigParse)
	}
	if c.BackupServiceID <= 0 {
		return fmt.Errorf("%w: backupServiceId must be a positive guest id", ErrConfigParse)
	}
	if c.BackupServiceMemoryMB <= 0 {
		return fmt.Errorf("%w: backupServiceMemoryMB must be positive", ErrConfigParse)
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes defined", ErrConfigParse)
	}

	seen := map[Role]string{}
	for name, n := range c.Nodes {
		if n.Address == "" {
			return fmt.Errorf("%w: node %s: address is required", ErrConfigParse, name)
		}
		if n.Hostname == "" {
			return fmt.Errorf("%w: node %s: hostname is required", ErrConfigParse, name)
		}
		if _, ok := roleRank[n.Role]; !ok {
			return fmt.Errorf("%w: node %s: unknown role %q", ErrConfigParse, name, n.Role)
		}
		if prev, dup := seen[n.Role]; dup {
			return fmt.Errorf("%w: nodes %s and %s share role %q", ErrConfigParse, prev, name, n.Role)
		}
		seen[n.Role] = name
		if len(n.Interfaces) < 2 {
			return fmt.Errorf("%w: node %s has %d", ErrInsufficientInterfaces, name, len(n.Interfaces))
		}
	}

	for _, role := range []Role{RoleClusterRoot, RoleMigrationSource, RoleBackupNAS} {
		if _, ok := seen[role]; !ok {
			return fmt.Errorf("%w: missing node with role %q", ErrConfigParse, role)
		}
	}
	return nil
}

// Persist writes the configuration as JSON to a timestamped file in dir and
// returns its path.
func (c *MigrationConfig) Persist(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config dir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("migration_config_%s.json", c.Timestamp))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return path, nil
}

// NewTimestamp returns the run timestamp for freshly built configurations.
func NewTimestamp() string {
	return time.Now().Format(TimestampLayout)
}
