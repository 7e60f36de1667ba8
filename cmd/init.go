package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-rsync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-rsync/pkg/config"
	"github.com/paulschiretz/pgl-rsync/pkg/flagparse"
	"github.com/paulschiretz/pgl-rsync/pkg/lockfile"
	"github.com/paulschiretz/pgl-rsync/pkg/plog"
	"github.com/paulschiretz/pgl-rsync/pkg/preflight"
	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

// RunInit handles the logic for the 'init' command. It writes the config file
// into the data directory. An existing file is updated (job flags add or change
// a job) unless -force asks for a fresh default config.
func RunInit(ctx context.Context, flagMap map[string]any) error {
	dataDir, err := resolveDataDir(flagMap)
	if err != nil {
		return err
	}
	expanded, err := util.ExpandPath(dataDir)
	if err != nil {
		return err
	}
	absDataDir, err := filepath.Abs(expanded)
	if err != nil {
		return fmt.Errorf("could not determine absolute data directory for %s: %w", dataDir, err)
	}

	force := false
	if f, ok := flagMap["force"]; ok {
		force = f.(bool)
	}

	var baseConfig config.Config
	if force {
		baseConfig = config.NewDefault()
		baseConfig.DataDir = absDataDir
	} else {
		baseConfig, err = config.Load(absDataDir)
		if err != nil {
			absConfigFilePath := filepath.Join(absDataDir, config.ConfigFileName)
			fmt.Printf("WARNING: Configuration file at %s could not be read: %v\n", absConfigFilePath, err)
			fmt.Printf("Continuing will overwrite it with default values. All custom settings will be lost.\n")
			if !PromptForConfirmation("Are you sure you want to continue?", false) {
				plog.Info(buildinfo.Name + " init operation canceled.")
				return nil
			}
			baseConfig = config.NewDefault()
			baseConfig.DataDir = absDataDir
		}
	}

	// Create a config from base merged with user flags.
	runConfig, err := config.MergeConfigWithFlags(flagparse.Init, baseConfig, flagMap)
	if err != nil {
		return err
	}

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return err
	}
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	startTime := time.Now()

	// Preflight Checks
	// A job given on the command line must have a readable source.
	if jobName, _ := flagMap["job"].(string); jobName != "" {
		if job, ok := runConfig.Job(jobName); ok {
			if err := preflight.CheckBackupSourceAccessible(job.Source); err != nil {
				return fmt.Errorf("initialization preflight failed: %w", err)
			}
		}
	}

	if runConfig.Rsync.DryRun {
		plog.Info("[DRY RUN] Initialization complete. No changes made.", "data_dir", runConfig.DataDir, "jobs", len(runConfig.Jobs))
		return nil
	}

	if err := os.MkdirAll(runConfig.DataDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", runConfig.DataDir, err)
	}

	// Ensure exclusive access to the config file.
	lock, err := lockfile.Acquire(ctx, lockfile.PathFor(runConfig.DataDir, config.ConfigFileName), "pgl-rsync-init:"+runConfig.DataDir)
	if err != nil {
		return fmt.Errorf("failed to acquire lock on data directory: %w", err)
	}
	defer lock.Release()

	if err := config.Generate(runConfig); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" data directory successfully initialized.", "data_dir", runConfig.DataDir, "jobs", len(runConfig.Jobs), "duration", duration)
	return nil
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
