package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/paulschiretz/pgl-rsync/pkg/config"
	"github.com/paulschiretz/pgl-rsync/pkg/engine"
	"github.com/paulschiretz/pgl-rsync/pkg/flagparse"
	"github.com/paulschiretz/pgl-rsync/pkg/hints"
	"github.com/paulschiretz/pgl-rsync/pkg/history"
	"github.com/paulschiretz/pgl-rsync/pkg/hook"
	"github.com/paulschiretz/pgl-rsync/pkg/planner"
	"github.com/paulschiretz/pgl-rsync/pkg/plog"
	"github.com/paulschiretz/pgl-rsync/pkg/preflight"
	"github.com/paulschiretz/pgl-rsync/pkg/rsync"
	"github.com/paulschiretz/pgl-rsync/pkg/scan"
)

// resolveDataDir returns the -data-dir flag or the default data directory.
func resolveDataDir(flagMap map[string]any) (string, error) {
	if dir, ok := flagMap["data-dir"].(string); ok && dir != "" {
		return dir, nil
	}
	return config.DefaultDataDir()
}

// loadRunConfig loads the config file from the data directory, overlays the
// flags and validates the result. It also applies the log level.
func loadRunConfig(command flagparse.Command, flagMap map[string]any) (config.Config, error) {
	dataDir, err := resolveDataDir(flagMap)
	if err != nil {
		return config.Config{}, err
	}

	loadedConfig, err := config.Load(dataDir)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	runConfig, err := config.MergeConfigWithFlags(command, loadedConfig, flagMap)
	if err != nil {
		return config.Config{}, err
	}

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	return runConfig, nil
}

// openHistory loads the backup history configured in cfg.
func openHistory(ctx context.Context, cfg config.Config) (*history.Ledger, error) {
	store, err := history.Open(cfg.History.Backend, cfg.HistoryPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open backup history: %w", err)
	}
	ledger, err := history.NewLedger(ctx, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load backup history: %w", err)
	}
	return ledger, nil
}

// newRunner creates the runner and feeds it with our leaf workers.
func newRunner(cfg config.Config, ledger *history.Ledger) *engine.Runner {
	recorder := history.NewLockedLedger(ledger, cfg.HistoryPath()+".lock", "pgl-rsync-history")
	scanner := scan.New(cfg.Scan.Workers)

	return engine.NewRunner(
		preflight.NewValidator(),
		hook.NewHookExecutor(nil),
		rsync.NewExecutor(cfg.Rsync.Binary, os.Stdout, nil),
		scanner,
		planner.New(scanner, recorder, planner.Options{
			LogRoot:   cfg.LogDir(),
			ExtraArgs: cfg.Rsync.ExtraArgs,
		}),
		ledger,
		engine.Options{
			LockDir:     cfg.DataDir,
			DryRun:      cfg.Rsync.DryRun,
			Progress:    cfg.Rsync.Progress,
			LogCompress: cfg.Logs.Compress,
			LogLevel:    cfg.Logs.Level,
		},
	)
}

// engineJob converts a configured job into a runnable one.
func engineJob(cfg config.Config, j config.JobConfig) engine.Job {
	return engine.Job{
		Name:        j.Name,
		Source:      j.Source,
		Destination: j.Destination,
		Mode:        j.Mode,
		Selection:   cfg.Selection(j),
		Description: j.Description,
		Repeat:      j.Repeat,
		PreBackup:   j.PreBackup,
		PostBackup:  j.PostBackup,
	}
}

// runJob runs one job. Soft failures (a partial transfer, a job already
// running elsewhere) are logged and not returned.
func runJob(ctx context.Context, runner *engine.Runner, cfg config.Config, j config.JobConfig) error {
	_, err := runner.ExecuteBackup(ctx, engineJob(cfg, j))
	if err == nil {
		return nil
	}
	if hints.IsHint(err) {
		plog.Warn("Backup finished with warnings", "job", j.Name, "reason", err)
		return nil
	}
	return err
}
