package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-rsync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-rsync/pkg/config"
	"github.com/paulschiretz/pgl-rsync/pkg/flagparse"
	"github.com/paulschiretz/pgl-rsync/pkg/history"
	"github.com/paulschiretz/pgl-rsync/pkg/plog"
	"github.com/paulschiretz/pgl-rsync/pkg/schedule"
)

// dueJob is a job whose schedule says it should run now.
type dueJob struct {
	job     config.JobConfig
	lastRun time.Time
	// neverRun is set when the history has no record of the job.
	neverRun bool
}

// RunDue handles the logic for the due command: it lists the scheduled jobs
// that are due and, with -run, runs them one after another.
func RunDue(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Due, flagMap)
	if err != nil {
		return err
	}

	jobs := runConfig.Jobs
	if name, _ := flagMap["job"].(string); name != "" {
		job, ok := runConfig.Job(name)
		if !ok {
			return fmt.Errorf("job %q is not configured", name)
		}
		jobs = []config.JobConfig{job}
	}

	ledger, err := openHistory(ctx, runConfig)
	if err != nil {
		return err
	}
	defer ledger.Close()

	due := findDueJobs(schedule.NewEngine(), ledger, jobs)
	if len(due) == 0 {
		plog.Info("No jobs are due.")
		return nil
	}
	for _, d := range due {
		lastRun := "never"
		if !d.neverRun {
			lastRun = humanize.Time(d.lastRun)
		}
		plog.Info("Job is due", "job", d.job.Name, "schedule", schedule.Describe(d.job.Schedule), "last_run", lastRun)
	}

	run := false
	if v, ok := flagMap["run"]; ok {
		run = v.(bool)
	}
	if !run {
		return nil
	}

	runner := newRunner(runConfig, ledger)
	var errs []error
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := runJob(ctx, runner, runConfig, d.job); err != nil {
			plog.Error("Backup failed", "job", d.job.Name, "error", err)
			errs = append(errs, fmt.Errorf("job %s: %w", d.job.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" ran all due jobs.", "jobs", len(due))
	return nil
}

// findDueJobs returns the jobs whose schedule is due according to the history.
// Jobs without a schedule are never due. A scheduled job that has never run is
// due at once; a job that is not marked repeat only runs that first time.
func findDueJobs(se *schedule.Engine, ledger *history.Ledger, jobs []config.JobConfig) []dueJob {
	var due []dueJob
	for _, job := range jobs {
		if job.Schedule == "" {
			plog.Debug("Job has no schedule, skipping", "job", job.Name)
			continue
		}

		last, ok := ledger.Latest(job.Name)
		switch {
		case !ok:
			due = append(due, dueJob{job: job, neverRun: true})
		case !job.Repeat:
			plog.Debug("Job does not repeat and already ran", "job", job.Name, "last_run", last.Created)
		case se.IsDueSince(job.Schedule, last.Created):
			due = append(due, dueJob{job: job, lastRun: last.Created})
		default:
			plog.Debug("Job is not due yet", "job", job.Name, "last_run", last.Created)
		}
	}
	return due
}
