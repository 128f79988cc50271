// Package migrate transfers guest storage and configuration from the
// source node to its destination. Transfers run on the source over rsync
// with checksum-based change detection, so an interrupted run resumes
// instead of restarting.
package migrate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/notdabob/proxmox-ve-toolkit/internal/config"
	"github.com/notdabob/proxmox-ve-toolkit/internal/guest"
	"github.com/notdabob/proxmox-ve-toolkit/internal/logging"
	"github.com/notdabob/proxmox-ve-toolkit/internal/remote"
	"github.com/notdabob/proxmox-ve-toolkit/internal/report"
)

// MigrationHeader is the migration CSV schema.
var MigrationHeader = []string{"Node", "Type", "ID", "Name", "Result", "Seconds"}

// rsyncFlags: archive, compression, checksum change detection, skip files
// already complete on the destination, keep partial transfers for resume.
const rsyncFlags = "-az --checksum --ignore-existing --partial"

// Engine moves guests between nodes.
type Engine struct {
	Runner remote.Runner
	Guests *guest.Controller

	now func() time.Time
}

// NewEngine returns a migration engine sharing the phase's guest
// controller for idempotent stops.
func NewEngine(r remote.Runner, g *guest.Controller) *Engine {
	return &Engine{Runner: r, Guests: g, now: time.Now}
}

// Migrate enumerates the source's guests fresh (state has changed since the
// shutdown phase) and transfers each one: bulk data first, then the config
// file as a second transfer. Virtual machines are fully migrated before any
// container starts. A transfer failure is recorded and then aborts the
// phase; partial data on the destination survives for the retry.
func (e *Engine) Migrate(ctx context.Context, source, dest config.Node, reportsDir, ts string) error {
	log := logging.L().With("component", "migrate", "source", source.Name, "dest", dest.Name)

	records, err := guest.List(ctx, e.Runner, source)
	if err != nil {
		return err
	}
	log.Infow("guests enumerated for migration", "count", len(records))

	csv, err := report.NewCSV(reportsDir, "migration", ts, MigrationHeader)
	if err != nil {
		return err
	}
	defer csv.Close()

	now := e.now
	if now == nil {
		now = time.Now
	}

	for _, rec := range records {
		start := now()
		err := e.migrateOne(ctx, source, dest, rec)
		seconds := int(now().Sub(start).Seconds())

		result := "SUCCESS"
		if err != nil {
			result = "ERROR"
		}
		if appendErr := csv.Append(source.Name, string(rec.Kind), strconv.Itoa(rec.ID), rec.Name,
			result, strconv.Itoa(seconds)); appendErr != nil {
			return appendErr
		}

		if err != nil {
			return fmt.Errorf("migration of %s %d failed: %w", rec.Kind, rec.ID, err)
		}
		log.Infow("guest migrated", "kind", rec.Kind, "id", rec.ID, "seconds", seconds)
	}
	return nil
}

func (e *Engine) migrateOne(ctx context.Context, source, dest config.Node, rec guest.Record) error {
	// Stop is idempotent: the shutdown phase usually got here first, but
	// guest state is never trusted across phases.
	if err := e.Guests.EnsureStopped(ctx, source, rec); err != nil {
		return err
	}

	dataDir := dataDir(rec)
	bulk := fmt.Sprintf("rsync %s %s/ root@%s:%s/", rsyncFlags, dataDir, dest.Address, dataDir)
	if _, stderr, err := e.Runner.Mutate(ctx, source.Address, bulk); err != nil {
		return fmt.Errorf("bulk transfer failed: %w (stderr: %s)", err, stderr)
	}

	// Config goes second: a visible config file implies its data already
	// arrived, never the other way around.
	confPath := configPath(rec)
	conf := fmt.Sprintf("rsync %s %s root@%s:%s", rsyncFlags, confPath, dest.Address, configDir(rec))
	if _, stderr, err := e.Runner.Mutate(ctx, source.Address, conf); err != nil {
		return fmt.Errorf("config transfer failed: %w (stderr: %s)", err, stderr)
	}
	return nil
}

func dataDir(rec guest.Record) string {
	if rec.Kind == guest.KindVM {
		return fmt.Sprintf("/var/lib/vz/images/%d", rec.ID)
	}
	return fmt.Sprintf("/var/lib/vz/private/%d", rec.ID)
}

func configDir(rec guest.Record) string {
	if rec.Kind == guest.KindVM {
		return "/etc/pve/qemu-server/"
	}
	return "/etc/pve/lxc/"
}

func configPath(rec guest.Record) string {
	return fmt.Sprintf("%s%d.conf", configDir(rec), rec.ID)
}
