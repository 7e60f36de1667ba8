package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-rsync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-rsync/pkg/config"
	"github.com/paulschiretz/pgl-rsync/pkg/flagparse"
	"github.com/paulschiretz/pgl-rsync/pkg/plog"
)

// RunBackup handles the logic for the backup command. It runs the configured
// job named by -job; job flags define or override that job for this run only.
func RunBackup(ctx context.Context, flagMap map[string]any) error {
	// For backup, the job flag is mandatory.
	jobName, ok := flagMap["job"].(string)
	if !ok || jobName == "" {
		return fmt.Errorf("the -job flag is required to run a backup")
	}

	runConfig, err := loadRunConfig(flagparse.Backup, flagMap)
	if err != nil {
		return err
	}

	// Log the Summary
	runConfig.LogSummary()

	job, ok := runConfig.Job(jobName)
	if !ok {
		return fmt.Errorf("job %q is not configured: add it to %s or pass -source and -destination", jobName, config.ConfigFileName)
	}

	ledger, err := openHistory(ctx, runConfig)
	if err != nil {
		return err
	}
	defer ledger.Close()

	startTime := time.Now()
	if err := runJob(ctx, newRunner(runConfig, ledger), runConfig, job); err != nil {
		return err // The error will be logged with full details by main()
	}
	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" finished successfully.", "job", job.Name, "duration", duration)
	return nil
}
