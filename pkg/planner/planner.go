// Package planner prepares rsync backup runs and records their outcome.
//
// A run moves through Created -> Scanned -> CommandBuilt -> Executed -> Finished.
// The Prepare* methods take a plan to CommandBuilt, the execution collaborator
// reports back through MarkExecuted, and Finish turns the plan into a history
// record. The planner never starts rsync itself.
package planner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/paulschiretz/pgl-rsync/pkg/filterrule"
	"github.com/paulschiretz/pgl-rsync/pkg/hints"
	"github.com/paulschiretz/pgl-rsync/pkg/history"
	"github.com/paulschiretz/pgl-rsync/pkg/plog"
	"github.com/paulschiretz/pgl-rsync/pkg/scan"
	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

// TimestampLayout formats run timestamps in log file and incremental directory names.
const TimestampLayout = "2006-01-02_15-04"

// DefaultMethod is recorded when Finish is not given a method.
const DefaultMethod = "rsync"

// idLength is the length of a plan id.
const idLength = 8

var (
	// ErrPlanNotReady is returned when a plan is used out of lifecycle order.
	ErrPlanNotReady = errors.New("backup plan is not in the required state")
	// ErrInvalidRequest is returned for requests missing a name, source or destination.
	ErrInvalidRequest = errors.New("invalid backup request")
)

// Scanner counts what a filtered transfer would carry.
type Scanner interface {
	Scan(ctx context.Context, root string, rules filterrule.Rules) (scan.Result, error)
}

// Recorder keeps finished records and persists them.
type Recorder interface {
	Append(r history.Record)
	Flush(ctx context.Context) error
}

// Options configure a Planner. Zero values select the defaults.
type Options struct {
	// LogRoot is the directory run logs go under. Empty disables log files.
	LogRoot string
	// ExtraArgs are appended to every rsync command after the built-in flags.
	ExtraArgs []string
	Now       func() time.Time
	NewID     func() (string, error)
}

// Planner holds the collaborators shared by all plans. It is safe for concurrent use.
type Planner struct {
	scanner   Scanner
	recorder  Recorder
	logRoot   string
	extraArgs []string
	now       func() time.Time
	newID     func() (string, error)
}

// New returns a Planner.
func New(scanner Scanner, recorder Recorder, opts Options) *Planner {
	p := &Planner{
		scanner:   scanner,
		recorder:  recorder,
		logRoot:   opts.LogRoot,
		extraArgs: append([]string(nil), opts.ExtraArgs...),
		now:       opts.Now,
		newID:     opts.NewID,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newID == nil {
		p.newID = func() (string, error) { return util.RandomToken(idLength) }
	}
	return p
}

// Request describes a backup to prepare.
type Request struct {
	Name        string
	Source      string
	Destination string
	Selection   filterrule.Selection
	DryRun      bool
	Progress    bool
	// Delete removes destination files missing from the source. Always on for sync.
	Delete bool
	Repeat bool
}

// IncrementalRequest describes an incremental backup. Destination is the base
// directory the timestamped run directory is created in.
type IncrementalRequest struct {
	Request
	// ParentID and ParentPath identify the previous run to hard-link against.
	// Both may be empty for the first run.
	ParentID   string
	ParentPath string
}

// FinishRequest carries what is only known after the run.
type FinishRequest struct {
	Description string
	Method      string
}

// PreparePlain plans a copy into Destination that never deletes from it.
func (p *Planner) PreparePlain(ctx context.Context, req Request) (*BackupPlan, error) {
	return p.prepare(ctx, Plain, req, req.Destination, "")
}

// PrepareSync plans a mirror of Source at Destination. Files absent from the
// source are deleted from the destination.
func (p *Planner) PrepareSync(ctx context.Context, req Request) (*BackupPlan, error) {
	req.Delete = true
	return p.prepare(ctx, Sync, req, req.Destination, "")
}

// PrepareIncremental plans a run into a new "<name>_<timestamp>" directory
// under the base destination. If ParentPath names an existing directory,
// unchanged files are hard-linked against it; otherwise the run is a full copy
// and a warning is recorded on the plan.
func (p *Planner) PrepareIncremental(ctx context.Context, req IncrementalRequest) (*BackupPlan, error) {
	if err := validate(req.Request); err != nil {
		return nil, err
	}
	if util.IsRemotePath(req.Destination) {
		return nil, fmt.Errorf("%w: incremental destination must be a local directory, got %s", ErrInvalidRequest, req.Destination)
	}

	var linkDest, warning string
	if req.ParentPath != "" {
		abs, err := existingDir(req.ParentPath)
		if err == nil {
			linkDest = abs
		} else {
			missing := hints.Newf("previous backup %s not usable, running a full copy: %w", req.ParentPath, err)
			warning = missing.Error()
			plog.Debug("Incremental baseline missing, falling back to full copy", "name", req.Name, "error", missing)
		}
	}

	plan, err := p.prepare(ctx, Incremental, req.Request, "", linkDest)
	if err != nil {
		return nil, err
	}
	if linkDest != "" {
		plan.ParentID = req.ParentID
	}
	if warning != "" {
		plan.Warnings = append(plan.Warnings, warning)
	}
	return plan, nil
}

func validate(req Request) error {
	switch {
	case req.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	case req.Source == "":
		return fmt.Errorf("%w: source is required", ErrInvalidRequest)
	case req.Destination == "":
		return fmt.Errorf("%w: destination is required", ErrInvalidRequest)
	}
	return nil
}

// prepare runs the shared Created -> Scanned -> CommandBuilt steps. An empty
// destination means "create a fresh incremental directory".
func (p *Planner) prepare(ctx context.Context, mode Mode, req Request, destination, linkDest string) (*BackupPlan, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	id, err := p.newID()
	if err != nil {
		return nil, err
	}
	created := p.now()

	source, err := util.AbsDirWithSlash(req.Source)
	if err != nil {
		return nil, err
	}

	plan := &BackupPlan{
		ID:        id,
		Name:      req.Name,
		Mode:      mode,
		Source:    source,
		Created:   created,
		Timestamp: created.Format(TimestampLayout),
		Repeat:    req.Repeat,
		DryRun:    req.DryRun,
		Selection: req.Selection,
		Rules:     filterrule.Build(req.Selection),
		State:     Created,
	}

	if err := p.scan(ctx, plan); err != nil {
		return nil, err
	}

	if mode == Incremental {
		plan.Destination, err = createRunDir(req.Destination, req.Name, plan.Timestamp)
		plan.BaselinePath = linkDest
	} else {
		plan.Destination, err = resolveDestination(destination)
	}
	if err != nil {
		return nil, err
	}

	if plan.LogFile, err = p.prepareLogFile(req.Name, plan.Timestamp); err != nil {
		return nil, err
	}

	p.buildCommand(plan, Flags{
		DryRun:   req.DryRun,
		Progress: req.Progress,
		Delete:   req.Delete,
		LinkDest: linkDest,
		Extra:    p.extraArgs,
	})

	plog.Debug("Backup planned", "id", plan.ID, "summary", plan.Summary(), "destination", plan.Destination)
	return plan, nil
}

func (p *Planner) scan(ctx context.Context, plan *BackupPlan) error {
	if plan.State != Created {
		return fmt.Errorf("%w: scan requires %s, plan is %s", ErrPlanNotReady, Created, plan.State)
	}
	res, err := p.scanner.Scan(ctx, plan.Source, plan.Rules)
	if err != nil {
		return fmt.Errorf("pre-flight scan of %s failed: %w", plan.Source, err)
	}
	plan.FileCount = res.Files
	plan.TotalBytes = res.Bytes
	plan.State = Scanned
	return nil
}

func (p *Planner) buildCommand(plan *BackupPlan, f Flags) {
	plan.Args = BuildArgs(plan.Source, plan.Destination, plan.Rules, f)
	plan.State = CommandBuilt
}

// prepareLogFile returns "<logRoot>/<name>/<name>_<timestamp>.log" and creates its directory.
func (p *Planner) prepareLogFile(name, timestamp string) (string, error) {
	if p.logRoot == "" {
		return "", nil
	}
	dir := filepath.Join(p.logRoot, name)
	if err := os.MkdirAll(dir, util.WithUserWritePermission(util.UserWritableDirPerms)); err != nil {
		return "", fmt.Errorf("could not create log directory %s: %w", dir, err)
	}
	return filepath.Join(dir, name+"_"+timestamp+".log"), nil
}

// MarkExecuted records what the execution collaborator reported.
func (p *Planner) MarkExecuted(plan *BackupPlan, archivedFiles int64, exitCode int) error {
	if plan == nil || plan.State != CommandBuilt {
		return planStateError(plan, CommandBuilt)
	}
	plan.ArchivedFiles = archivedFiles
	plan.ExitCode = exitCode
	plan.State = Executed
	return nil
}

// Finish checks the run for missing files, appends the record to the history
// and writes the history out. A shortfall and a failed write both land in
// plan.Errors; neither is returned. The only error is ErrPlanNotReady.
func (p *Planner) Finish(ctx context.Context, plan *BackupPlan, req FinishRequest) (history.Record, error) {
	if plan == nil || plan.State != Executed {
		return history.Record{}, planStateError(plan, Executed)
	}

	plan.Description = req.Description
	plan.Method = req.Method
	if plan.Method == "" {
		plan.Method = DefaultMethod
	}

	if plan.ArchivedFiles < plan.FileCount {
		plan.Errors = append(plan.Errors, shortfallWarning(plan.ArchivedFiles, plan.FileCount))
	}

	record := plan.ToRecord()
	p.recorder.Append(record)
	plan.State = Finished

	if err := p.recorder.Flush(ctx); err != nil {
		plog.Warn("Could not save backup history", "id", plan.ID, "name", plan.Name, "error", err)
		plan.Errors = append(plan.Errors, fmt.Sprintf("Could not save backup history: %v", err))
	}
	return record, nil
}

func shortfallWarning(archived, total int64) string {
	return fmt.Sprintf("Warning: Some files were not saved. Only %d files were backed up out of %d (%s).",
		archived, total, strconv.FormatInt(archived-total, 10))
}

func planStateError(plan *BackupPlan, want State) error {
	if plan == nil {
		return fmt.Errorf("%w: no plan", ErrPlanNotReady)
	}
	return fmt.Errorf("%w: need %s, plan %s is %s", ErrPlanNotReady, want, plan.ID, plan.State)
}

// resolveDestination makes local destinations absolute and passes remote ones through.
func resolveDestination(dest string) (string, error) {
	if util.IsRemotePath(dest) {
		return dest, nil
	}
	expanded, err := util.ExpandPath(dest)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("could not determine absolute path for %s: %w", dest, err)
	}
	return abs, nil
}

// existingDir returns the absolute form of path if it is an existing directory.
func existingDir(path string) (string, error) {
	abs, err := resolveDestination(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

// createRunDir creates "<base>/<name>_<timestamp>", appending "_2", "_3", ... if
// that directory already exists. An existing directory is never reused.
func createRunDir(base, name, timestamp string) (string, error) {
	absBase, err := resolveDestination(base)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(absBase, util.WithUserWritePermission(util.UserWritableDirPerms)); err != nil {
		return "", fmt.Errorf("could not create backup base directory %s: %w", absBase, err)
	}

	stem := filepath.Join(absBase, name+"_"+timestamp)
	dir := stem
	for n := 2; ; n++ {
		err := os.Mkdir(dir, util.WithUserWritePermission(util.UserWritableDirPerms))
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("could not create backup directory %s: %w", dir, err)
		}
		dir = stem + "_" + strconv.Itoa(n)
	}
}
