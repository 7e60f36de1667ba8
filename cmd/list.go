package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-rsync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-rsync/pkg/flagparse"
	"github.com/paulschiretz/pgl-rsync/pkg/history"
	"github.com/paulschiretz/pgl-rsync/pkg/logarchive"
	"github.com/paulschiretz/pgl-rsync/pkg/plog"
)

// listTimeLayout formats record timestamps in list output.
const listTimeLayout = "2006-01-02 15:04"

// RunList handles the logic for the list command: it prints the backup history,
// or with -log the run log of a single backup.
func RunList(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.List, flagMap)
	if err != nil {
		return err
	}

	ledger, err := openHistory(ctx, runConfig)
	if err != nil {
		return err
	}
	defer ledger.Close()

	if id, _ := flagMap["log"].(string); id != "" {
		return printRunLog(ctx, ledger, id, os.Stdout)
	}

	order := history.Desc
	if asc, ok := flagMap["asc"].(bool); ok && asc {
		order = history.Asc
	}
	jobName, _ := flagMap["job"].(string)

	records := ledger.Records(jobName, order)
	if limit, ok := flagMap["limit"].(int); ok && limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	if len(records) == 0 {
		plog.Info(buildinfo.Name + " found no backups.")
		return nil
	}

	for _, r := range records {
		logArgs := []any{
			"id", r.ID,
			"job", r.Name,
			"mode", r.Mode,
			"created", r.Created.Local().Format(listTimeLayout),
			"age", humanize.Time(r.Created),
			"files", fmt.Sprintf("%s/%s", humanize.Comma(r.ArchivedFiles), humanize.Comma(r.FileCount)),
			"size", humanize.IBytes(uint64(r.TotalBytes)),
			"exit_code", r.ExitCode,
			"destination", r.Destination,
		}
		if r.ParentID != "" {
			logArgs = append(logArgs, "parent", r.ParentID)
		}
		if r.Description != "" {
			logArgs = append(logArgs, "description", r.Description)
		}
		if !r.Complete() {
			logArgs = append(logArgs, "missing", humanize.Comma(r.FileCount-r.ArchivedFiles))
		}
		plog.Info("Backup", logArgs...)
	}
	plog.Info(fmt.Sprintf("%s listed %d backups.", buildinfo.Name, len(records)))
	return nil
}

// printRunLog copies the run log of the backup with id to w.
func printRunLog(ctx context.Context, ledger *history.Ledger, id string, w io.Writer) error {
	var found *history.Record
	for _, r := range ledger.Records("", history.Desc) {
		if r.ID == id {
			found = &r
			break
		}
	}
	if found == nil {
		return fmt.Errorf("no backup with id %q", id)
	}
	if found.LogFile == "" {
		return fmt.Errorf("backup %s has no run log", id)
	}

	rc, err := logarchive.Open(found.LogFile)
	if err != nil {
		return fmt.Errorf("could not open run log of backup %s: %w", id, err)
	}
	defer rc.Close()

	plog.Debug("Printing run log", "id", id, "path", found.LogFile, "created", found.Created.Format(time.RFC3339))
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("could not read run log %s: %w", found.LogFile, err)
	}
	return ctx.Err()
}
