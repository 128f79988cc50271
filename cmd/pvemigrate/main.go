package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/notdabob/proxmox-ve-toolkit/internal/logging"
	"github.com/notdabob/proxmox-ve-toolkit/internal/orchestrator"
	"github.com/notdabob/proxmox-ve-toolkit/internal/prompt"
)

func main() {
	fs := flag.NewFlagSet("pvemigrate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a persisted migration config (omit to run the wizard)")
	logLevel := fs.String("log-level", "info", "log level (debug|info|warning|error)")
	logFile := fs.String("log-file", "pvemigrate.log", "log file path")
	workDir := fs.String("work-dir", ".", "directory for configs, backups and reports")
	dryRun := fs.Bool("dry-run", false, "suppress all mutating remote commands")
	nonInteractive := fs.Bool("non-interactive", false, "never prompt; confirmations are denied")
	assumeYes := fs.Bool("yes", false, "never prompt; confirmations are granted")
	cmdTimeout := fs.Duration("command-timeout", 120*time.Second, "per remote command timeout")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	// SSH credential overrides may live in a .env alongside the binary.
	_ = godotenv.Load()

	if err := logging.Init(*logLevel, *logFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var prompter prompt.Prompter = prompt.NewStdio()
	if *assumeYes {
		prompter = &prompt.NonInteractive{ConfirmAnswer: true}
	} else if *nonInteractive {
		prompter = &prompt.NonInteractive{}
	}

	opts := orchestrator.Options{
		ConfigPath:     *configPath,
		DryRun:         *dryRun,
		Prompter:       prompter,
		WorkDir:        *workDir,
		CommandTimeout: *cmdTimeout,
	}

	if err := orchestrator.Run(ctx, opts); err != nil {
		logging.L().Errorw("migration failed", "err", err)
		os.Exit(1)
	}
}
