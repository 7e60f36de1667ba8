package cmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-rsync/pkg/plog"
	"github.com/paulschiretz/pgl-rsync/pkg/schedule"
)

// RunSchedule handles the logic for the schedule command: it describes a
// schedule and prints when it would next run after -last-run.
func RunSchedule(ctx context.Context, flagMap map[string]any) error {
	if level, ok := flagMap["log-level"].(string); ok {
		plog.SetLevel(plog.LevelFromString(level))
	}

	text, _ := flagMap["interval"].(string)
	spec, ok := schedule.Parse(text)
	if !ok {
		return fmt.Errorf("invalid schedule %q: expected 'hourly', 'daily', 'weekly', 'monthly' or 'custom:N:hours|days|weeks'", text)
	}

	lastRun, _ := flagMap["last-run"].(string)
	next, ok := schedule.NewEngine().NextRunTimeText(spec, lastRun)
	if !ok {
		return fmt.Errorf("could not compute the next run of %q", text)
	}

	plog.Info("Schedule",
		"schedule", spec.Format(),
		"description", spec.Describe(),
		"next_run", next.Format(schedule.LastRunLayout),
		"in", humanize.Time(next),
	)
	return nil
}
