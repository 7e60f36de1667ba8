// Package engine runs backup jobs end to end.
//
// A run goes through the same steps for every mode:
//
//  1. Preflight: source, destination and the rsync binary are checked.
//  2. Job lock: a lock file per job name keeps two processes from running the same job.
//  3. Pre-backup hooks.
//  4. Planning: the planner scans the source and builds the rsync command.
//  5. Execution: rsync runs in its own process group and writes the run log.
//  6. Accounting: the destination is rescanned with the same filter rules to count
//     what arrived, and the run log is compressed.
//  7. Finish: the planner checks for a shortfall and appends the history record.
//  8. Post-backup hooks, even if the run failed.
//
// A dry run stops after step 5 and leaves no history record.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/paulschiretz/pgl-rsync/pkg/filterrule"
	"github.com/paulschiretz/pgl-rsync/pkg/hints"
	"github.com/paulschiretz/pgl-rsync/pkg/history"
	"github.com/paulschiretz/pgl-rsync/pkg/hook"
	"github.com/paulschiretz/pgl-rsync/pkg/lockfile"
	"github.com/paulschiretz/pgl-rsync/pkg/logarchive"
	"github.com/paulschiretz/pgl-rsync/pkg/planner"
	"github.com/paulschiretz/pgl-rsync/pkg/plog"
	"github.com/paulschiretz/pgl-rsync/pkg/preflight"
	"github.com/paulschiretz/pgl-rsync/pkg/rsync"
	"github.com/paulschiretz/pgl-rsync/pkg/scan"
	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

// ErrJobRunning is returned when another process holds the job's lock.
var ErrJobRunning = hints.New("job is already running")

// Job is one backup to run.
type Job struct {
	Name        string
	Source      string
	Destination string
	Mode        planner.Mode
	Selection   filterrule.Selection
	Description string
	Repeat      bool

	PreBackup  []string
	PostBackup []string
}

// Options configure a Runner.
type Options struct {
	// LockDir holds the per-job lock files.
	LockDir  string
	DryRun   bool
	Progress bool

	LogCompress logarchive.Format
	LogLevel    logarchive.Level
}

// Runner executes jobs with its leaf workers.
type Runner struct {
	validator *preflight.Validator
	hooks     *hook.HookExecutor
	executor  *rsync.Executor
	scanner   *scan.Scanner
	planner   *planner.Planner
	history   *history.Ledger
	opts      Options
}

// NewRunner returns a Runner. ledger is read to find the baseline of incremental
// jobs; records are written through the planner's recorder.
func NewRunner(
	validator *preflight.Validator,
	hooks *hook.HookExecutor,
	executor *rsync.Executor,
	scanner *scan.Scanner,
	p *planner.Planner,
	ledger *history.Ledger,
	opts Options,
) *Runner {
	return &Runner{
		validator: validator,
		hooks:     hooks,
		executor:  executor,
		scanner:   scanner,
		planner:   p,
		history:   ledger,
		opts:      opts,
	}
}

// ExecuteBackup runs job and returns its plan. The plan is nil if the run
// stopped before planning. A partial transfer is returned as a hint together
// with the finished plan.
func (r *Runner) ExecuteBackup(ctx context.Context, job Job) (*planner.BackupPlan, error) {
	// Check for cancellation at the very beginning.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// save the execution timestamp
	timestampUTC := time.Now().UTC()

	if err := r.validator.Run(ctx, job.Source, job.Destination, r.executor.Binary(), preflight.DefaultPlan(r.opts.DryRun)); err != nil {
		return nil, fmt.Errorf("preflight failed: %w", err)
	}

	lock, err := r.acquireJobLock(ctx, job.Name)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	hookPlan := hook.NewPlan(job.PreBackup, job.PostBackup, r.opts.DryRun)
	hc := hook.Context{Job: job.Name, Source: job.Source, Destination: job.Destination, ExitCode: -1}

	if err := r.hooks.RunPreHook(ctx, hc, hookPlan, timestampUTC); err != nil && !hints.IsHint(err) {
		errMsg := "pre-backup hook failed"
		if errors.Is(err, context.Canceled) {
			errMsg = "pre-backup hook canceled"
		}
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}

	// These run at the end of the function, even if the backup fails.
	defer func() {
		if err := r.hooks.RunPostHook(ctx, hc, hookPlan, time.Now().UTC()); err != nil && !hints.IsHint(err) {
			if errors.Is(err, context.Canceled) {
				plog.Info("post-backup hooks skipped due to cancellation.")
			} else {
				plog.Warn("post-backup hook failed", "error", err)
			}
		}
	}()

	plan, err := r.prepare(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("could not plan backup %s: %w", job.Name, err)
	}

	plog.Info("Starting backup", "id", plan.ID, "job", plan.Summary(), "source", plan.Source, "destination", plan.Destination)
	res, runErr := r.executor.Run(ctx, plan.Args, plan.LogFile)
	hc.ExitCode = res.ExitCode
	if runErr != nil && res.ExitCode < 0 {
		return plan, fmt.Errorf("backup %s did not complete: %w", job.Name, runErr)
	}

	if plan.DryRun {
		r.discardDryRun(plan)
		plog.Info("[DRY RUN] Backup completed. No history written.", "id", plan.ID, "exit_code", res.ExitCode)
		return plan, runErr
	}

	if err := r.planner.MarkExecuted(plan, r.countArchived(ctx, plan), res.ExitCode); err != nil {
		return plan, err
	}
	r.archiveLog(ctx, plan)
	if _, err := r.planner.Finish(ctx, plan, planner.FinishRequest{Description: job.Description}); err != nil {
		return plan, err
	}
	for _, msg := range plan.Errors {
		plog.Warn(msg, "id", plan.ID, "job", plan.Name)
	}

	plog.Info("Backup completed", "id", plan.ID, "job", plan.Name, "exit_code", res.ExitCode,
		"result", rsync.ExitCodeText(res.ExitCode), "duration", res.Duration.Round(time.Millisecond))
	return plan, runErr
}

// prepare asks the planner for the mode's plan.
func (r *Runner) prepare(ctx context.Context, job Job) (*planner.BackupPlan, error) {
	req := planner.Request{
		Name:        job.Name,
		Source:      job.Source,
		Destination: job.Destination,
		Selection:   job.Selection,
		DryRun:      r.opts.DryRun,
		Progress:    r.opts.Progress,
		Repeat:      job.Repeat,
	}

	switch job.Mode {
	case planner.Plain:
		return r.planner.PreparePlain(ctx, req)
	case planner.Sync:
		return r.planner.PrepareSync(ctx, req)
	case planner.Incremental:
		inc := planner.IncrementalRequest{Request: req}
		if parent, ok := r.latestIncremental(ctx, job.Name); ok {
			inc.ParentID = parent.ID
			inc.ParentPath = parent.Destination
		}
		return r.planner.PrepareIncremental(ctx, inc)
	default:
		return nil, fmt.Errorf("unknown backup mode %s", job.Mode)
	}
}

// latestIncremental returns the newest incremental record of name. The history
// is reloaded first; another process may have run the job since it was loaded.
func (r *Runner) latestIncremental(ctx context.Context, name string) (history.Record, bool) {
	if err := r.history.Reload(ctx); err != nil {
		plog.Debug("Could not reload history, using the loaded records", "error", err)
	}
	for _, rec := range r.history.Records(name, history.Desc) {
		if rec.Mode == planner.Incremental.String() {
			return rec, true
		}
	}
	return history.Record{}, false
}

// countArchived rescans the destination with the plan's rules. Remote
// destinations cannot be scanned; their count is taken from the plan and rsync's
// exit code tells whether the transfer was complete.
func (r *Runner) countArchived(ctx context.Context, plan *planner.BackupPlan) int64 {
	if util.IsRemotePath(plan.Destination) {
		return plan.FileCount
	}
	res, err := r.scanner.Scan(ctx, plan.Destination, plan.Rules)
	if err != nil {
		plog.Warn("Could not count archived files", "destination", plan.Destination, "error", err)
		return 0
	}
	return res.Files
}

// archiveLog compresses the run log and points the plan at the result.
func (r *Runner) archiveLog(ctx context.Context, plan *planner.BackupPlan) {
	final, err := logarchive.Compress(ctx, plan.LogFile, r.opts.LogCompress, r.opts.LogLevel)
	if err != nil {
		if !hints.IsHint(err) {
			plog.Warn("Could not compress run log, keeping it uncompressed", "path", plan.LogFile, "error", err)
		}
		return
	}
	plan.LogFile = final
}

// discardDryRun removes the run directory an incremental dry run created. It
// is only removed while empty.
func (r *Runner) discardDryRun(plan *planner.BackupPlan) {
	if plan.Mode != planner.Incremental {
		return
	}
	if err := os.Remove(plan.Destination); err != nil {
		plog.Debug("Dry run directory kept", "path", plan.Destination, "error", err)
	}
}

// acquireJobLock takes the lock for the job name in the lock directory.
func (r *Runner) acquireJobLock(ctx context.Context, name string) (*lockfile.Lock, error) {
	if err := os.MkdirAll(r.opts.LockDir, util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("could not create lock directory %s: %w", r.opts.LockDir, err)
	}
	path := lockfile.PathFor(r.opts.LockDir, name)

	plog.Debug("Attempting to acquire lock", "path", path)
	lock, err := lockfile.Acquire(ctx, path, "pgl-rsync:"+name)
	if err != nil {
		if lockErr, ok := errors.AsType[*lockfile.ErrLockActive](err); ok {
			return nil, fmt.Errorf("%w: %s", ErrJobRunning, lockErr.Error())
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	plog.Debug("Lock acquired successfully.")
	return lock, nil
}
