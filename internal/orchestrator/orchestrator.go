// Package orchestrator runs the migration phases in their fixed order and
// owns the failure path: the first phase error triggers the rollback sweep
// and ends the run.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notdabob/proxmox-ve-toolkit/internal/backupsrv"
	"github.com/notdabob/proxmox-ve-toolkit/internal/cluster"
	"github.com/notdabob/proxmox-ve-toolkit/internal/config"
	"github.com/notdabob/proxmox-ve-toolkit/internal/guest"
	"github.com/notdabob/proxmox-ve-toolkit/internal/logging"
	"github.com/notdabob/proxmox-ve-toolkit/internal/migrate"
	"github.com/notdabob/proxmox-ve-toolkit/internal/network"
	"github.com/notdabob/proxmox-ve-toolkit/internal/preflight"
	"github.com/notdabob/proxmox-ve-toolkit/internal/prompt"
	"github.com/notdabob/proxmox-ve-toolkit/internal/remote"
	"github.com/notdabob/proxmox-ve-toolkit/internal/report"
	"github.com/notdabob/proxmox-ve-toolkit/internal/rollback"
	"github.com/notdabob/proxmox-ve-toolkit/internal/ssh"
)

// Options configures one run.
type Options struct {
	ConfigPath string
	DryRun     bool
	Prompter   prompt.Prompter
	// WorkDir is where configs, backups, and reports land. Defaults to the
	// current directory.
	WorkDir string
	// CommandTimeout bounds every remote command.
	CommandTimeout time.Duration
	// Runner overrides the SSH transport; nil builds a pooled SSH runner
	// from the node registry.
	Runner remote.Runner
}

// RunContext carries the per-run state every phase reads. It replaces the
// module-scoped mutable globals of earlier tooling so a phase's
// dependencies are visible in its signature.
type RunContext struct {
	RunID      string
	Timestamp  string
	DryRun     bool
	ReportsDir string
	BackupsDir string
	Log        *zap.SugaredLogger
	Prompter   prompt.Prompter

	// Backups is filled by preflight and consumed by rollback.
	Backups map[string]preflight.NodeBackup
}

// PhaseOutcome is one entry in the run's phase ledger.
type PhaseOutcome struct {
	Phase      string
	StartedAt  time.Time
	FinishedAt time.Time
	Success    bool
	Err        string
}

// Run executes the full migration workflow. It is a single forward-only
// attempt: on the first phase failure it rolls back and returns the error;
// the operator re-runs with the persisted config after fixing the root
// cause.
func Run(ctx context.Context, opts Options) error {
	if opts.Prompter == nil {
		opts.Prompter = prompt.NewStdio()
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}

	cfg, err := config.LoadOrBuild(opts.ConfigPath, opts.WorkDir, opts.Prompter)
	if err != nil {
		return err
	}
	nodes := cfg.Ordered()

	// Reports and backups take a fresh timestamp: the persisted config (and
	// its own timestamp) is replayed across retries, and a resumed run must
	// not append into the previous attempt's CSVs or overwrite its backups.
	run := &RunContext{
		RunID:      uuid.NewString(),
		Timestamp:  config.NewTimestamp(),
		DryRun:     opts.DryRun,
		ReportsDir: filepath.Join(opts.WorkDir, "reports"),
		BackupsDir: filepath.Join(opts.WorkDir, "backups"),
		Prompter:   opts.Prompter,
	}
	run.Log = logging.L().With("run", run.RunID)

	run.Log.Infow("starting migration run",
		"cluster", cfg.ClusterName, "nodes", len(nodes), "dryRun", run.DryRun)

	runner := opts.Runner
	if runner == nil {
		creds, err := ssh.Credentials(opts.Prompter)
		if err != nil {
			return err
		}
		auth := make(map[string]ssh.AuthConfig, len(nodes))
		for _, n := range nodes {
			auth[n.Address] = creds
		}
		pool := ssh.NewPool(auth, opts.CommandTimeout)
		defer pool.Close()
		runner = pool
	}
	if run.DryRun {
		runner = &remote.DryRunner{Inner: runner}
	}

	guests := guest.NewController(runner)

	phases := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"Preflight", func(ctx context.Context) error {
			checker := &preflight.Checker{
				Runner:     runner,
				Prompter:   run.Prompter,
				BackupsDir: run.BackupsDir,
				Timestamp:  run.Timestamp,
			}
			backups, err := checker.Check(ctx, nodes)
			if err != nil {
				return err
			}
			run.Backups = backups
			return nil
		}},
		{"ShutdownAllGuests", func(ctx context.Context) error {
			csv, err := report.NewCSV(run.ReportsDir, "shutdown", run.Timestamp, guest.ShutdownHeader)
			if err != nil {
				return err
			}
			defer csv.Close()
			return guests.StopAll(ctx, nodes, csv)
		}},
		{"NetworkOptimize", func(ctx context.Context) error {
			return network.NewOptimizer(runner).Optimize(ctx, nodes, run.ReportsDir, run.Timestamp)
		}},
		{"ApplyHostnameIPChanges", func(ctx context.Context) error {
			return network.ApplyHostnameIPChanges(ctx, runner, nodes)
		}},
		{"FormCluster", func(ctx context.Context) error {
			return cluster.Form(ctx, runner, cfg)
		}},
		{"DeployBackupService", func(ctx context.Context) error {
			backupNode, err := cfg.ByRole(config.RoleBackupNAS)
			if err != nil {
				return err
			}
			d := &backupsrv.Deployer{Runner: runner}
			return d.Deploy(ctx, backupNode, cfg.BackupServiceID, cfg.BackupServiceMemoryMB)
		}},
		{"MigrateGuests", func(ctx context.Context) error {
			source, err := cfg.ByRole(config.RoleMigrationSource)
			if err != nil {
				return err
			}
			dest, err := cfg.ByRole(config.RoleClusterRoot)
			if err != nil {
				return err
			}
			engine := migrate.NewEngine(runner, guests)
			if err := engine.Migrate(ctx, source, dest, run.ReportsDir, run.Timestamp); err != nil {
				return err
			}
			// The source node only joins the cluster once it is empty.
			return cluster.JoinSource(ctx, runner, cfg)
		}},
		{"GenerateReports", func(ctx context.Context) error {
			archive, err := report.Finalize(run.ReportsDir, run.Timestamp)
			if err != nil {
				return err
			}
			run.Log.Infow("audit archive written", "path", archive)
			return nil
		}},
	}

	var ledger []PhaseOutcome
	for i, phase := range phases {
		run.Log.Infow(fmt.Sprintf("phase %d/%d: %s", i+1, len(phases), phase.name))

		outcome := PhaseOutcome{Phase: phase.name, StartedAt: time.Now()}
		err := phase.fn(ctx)
		outcome.FinishedAt = time.Now()
		outcome.Success = err == nil
		if err != nil {
			outcome.Err = err.Error()
		}
		ledger = append(ledger, outcome)

		if err != nil {
			run.Log.Errorw("phase failed; rolling back", "phase", phase.name, "err", err)
			coordinator := &rollback.Coordinator{Runner: runner, Guests: guests, Backups: run.Backups}
			coordinator.Rollback(ctx, nodes)
			logLedger(run, ledger)
			return fmt.Errorf("phase %s failed: %w", phase.name, err)
		}
		run.Log.Infow("phase complete", "phase", phase.name,
			"elapsed", outcome.FinishedAt.Sub(outcome.StartedAt).Round(time.Second))
	}

	logLedger(run, ledger)
	run.Log.Infow("migration run complete", "cluster", cfg.ClusterName)
	return nil
}

func logLedger(run *RunContext, ledger []PhaseOutcome) {
	for _, outcome := range ledger {
		run.Log.Infow("phase outcome",
			"phase", outcome.Phase,
			"success", outcome.Success,
			"elapsed", outcome.FinishedAt.Sub(outcome.StartedAt).Round(time.Second),
			"err", outcome.Err)
	}
}
