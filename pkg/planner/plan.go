package planner

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-rsync/pkg/filterrule"
	"github.com/paulschiretz/pgl-rsync/pkg/history"
)

// BackupPlan carries everything about one backup run from preparation to the
// persisted record. Planner methods take it explicitly; the Planner itself keeps
// no per-run state, so independent plans can be prepared concurrently.
type BackupPlan struct {
	ID          string
	Name        string
	Mode        Mode
	Source      string
	Destination string
	Args        []string
	LogFile     string
	Created     time.Time
	Timestamp   string
	Repeat      bool
	DryRun      bool

	Selection filterrule.Selection
	Rules     filterrule.Rules

	// Incremental only.
	ParentID     string
	BaselinePath string

	// Filled by the pre-flight scan.
	FileCount  int64
	TotalBytes int64

	// Filled by the execution collaborator through MarkExecuted.
	ArchivedFiles int64
	ExitCode      int

	// Filled by Finish.
	Method      string
	Description string

	// Errors are user-visible problems (shortfalls, persistence failures).
	// Warnings are diagnostics for fallbacks that are not failures.
	Errors   []string
	Warnings []string

	State State
}

// Shortfall returns how many scanned files were not archived (negative when some were missed).
func (p *BackupPlan) Shortfall() int64 {
	return p.ArchivedFiles - p.FileCount
}

// Summary returns a one-line description for logs and terminal output.
func (p *BackupPlan) Summary() string {
	return fmt.Sprintf("%s (%s): %s files, %s", p.Name, p.Mode, humanize.Comma(p.FileCount), humanize.IBytes(uint64(p.TotalBytes)))
}

// ToRecord converts the plan into its persisted form.
func (p *BackupPlan) ToRecord() history.Record {
	return history.Record{
		ID:            p.ID,
		Name:          p.Name,
		Method:        p.Method,
		Mode:          p.Mode.String(),
		Source:        p.Source,
		Destination:   p.Destination,
		Created:       p.Created,
		Timestamp:     p.Timestamp,
		Repeat:        p.Repeat,
		Description:   p.Description,
		IncludeFiles:  cloneStrings(p.Selection.IncludeFiles),
		IncludeDirs:   cloneStrings(p.Selection.IncludeDirs),
		ExcludeFiles:  cloneStrings(p.Selection.ExcludeFiles),
		ExcludeDirs:   cloneStrings(p.Selection.ExcludeDirs),
		LogFile:       p.LogFile,
		FileCount:     p.FileCount,
		TotalBytes:    p.TotalBytes,
		ArchivedFiles: p.ArchivedFiles,
		ExitCode:      p.ExitCode,
		ParentID:      p.ParentID,
		BaselinePath:  p.BaselinePath,
		Errors:        cloneStrings(p.Errors),
	}
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	return append([]string(nil), in...)
}
