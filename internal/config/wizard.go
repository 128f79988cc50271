package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/notdabob/proxmox-ve-toolkit/internal/logging"
	"github.com/notdabob/proxmox-ve-toolkit/internal/prompt"
)

// roleDefault supplies the per-role wizard defaults for the fixed topology.
type roleDefault struct {
	role    Role
	name    string
	address string
}

var wizardRoles = []roleDefault{
	{RoleClusterRoot, "pm1", "192.168.1.10"},
	{RoleMigrationSource, "rg-prox01", "192.168.1.11"},
	{RoleBackupNAS, "rg-prox03", "192.168.1.12"},
}

// LoadOrBuild returns the run configuration: from path when it names an
// existing file, otherwise by walking the operator through the wizard and
// persisting the result into dir before returning, so a failure in any
// later phase leaves a replayable config behind.
func LoadOrBuild(path, dir string, p prompt.Prompter) (*MigrationConfig, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg, err := buildInteractive(p)
	if err != nil {
		return nil, err
	}

	persisted, err := cfg.Persist(dir)
	if err != nil {
		return nil, err
	}
	logging.L().Infow("configuration persisted; re-run with -config to resume", "path", persisted)
	return cfg, nil
}

func buildInteractive(p prompt.Prompter) (*MigrationConfig, error) {
	clusterName, err := p.Ask("Cluster name", "rg-cluster")
	if err != nil {
		return nil, err
	}

	idStr, err := p.Ask("Backup server guest id", "200")
	if err != nil {
		return nil, err
	}
	backupID, err := strconv.Atoi(strings.TrimSpace(idStr))
	if err != nil {
		return nil, fmt.Errorf("%w: backup service id %q is not a number", ErrConfigParse, idStr)
	}

	memStr, err := p.Ask("Backup server memory (MB)", "4096")
	if err != nil {
		return nil, err
	}
	memoryMB, err := strconv.Atoi(strings.TrimSpace(memStr))
	if err != nil {
		return nil, fmt.Errorf("%w: backup service memory %q is not a number", ErrConfigParse, memStr)
	}

	cfg := &MigrationConfig{
		Timestamp:             NewTimestamp(),
		ClusterName:           clusterName,
		BackupServiceID:       backupID,
		BackupServiceMemoryMB: memoryMB,
		Nodes:                 make(map[string]Node, len(wizardRoles)),
	}

	for _, rd := range wizardRoles {
		node, err := askNode(p, rd)
		if err != nil {
			return nil, err
		}
		cfg.Nodes[node.Name] = node
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func askNode(p prompt.Prompter, rd roleDefault) (Node, error) {
	address, err := p.Ask(fmt.Sprintf("Address for %s node %s", rd.role, rd.name), rd.address)
	if err != nil {
		return Node{}, err
	}

	hostname, err := p.Ask(fmt.Sprintf("Hostname for %s", rd.name), rd.name)
	if err != nil {
		return Node{}, err
	}

	ifaceList, err := p.Ask(fmt.Sprintf("Interfaces for %s (comma-separated)", rd.name), "")
	if err != nil {
		return Node{}, err
	}
	interfaces := splitInterfaces(ifaceList)
	if len(interfaces) < 2 {
		return Node{}, fmt.Errorf("%w: node %s has %d", ErrInsufficientInterfaces, rd.name, len(interfaces))
	}

	return Node{
		Name:       rd.name,
		Address:    address,
		Hostname:   hostname,
		Interfaces: interfaces,
		Role:       rd.role,
	}, nil
}

func splitInterfaces(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
