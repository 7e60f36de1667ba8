package cmd

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-rsync/pkg/config"
	"github.com/paulschiretz/pgl-rsync/pkg/history"
	"github.com/paulschiretz/pgl-rsync/pkg/schedule"
)

// memoryStore keeps records in memory.
type memoryStore struct {
	records []history.Record
}

func (s *memoryStore) Load(ctx context.Context) ([]history.Record, error) { return s.records, nil }
func (s *memoryStore) Save(ctx context.Context, records []history.Record) error {
	s.records = records
	return nil
}
func (s *memoryStore) Close() error { return nil }

func TestFindDueJobs(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.Local)
	ago := func(d time.Duration) time.Time { return now.Add(-d) }

	store := &memoryStore{records: []history.Record{
		{ID: "1", Name: "docs", Created: ago(26 * time.Hour)},
		{ID: "2", Name: "photos", Created: ago(24 * time.Hour)},
		{ID: "3", Name: "once", Created: ago(72 * time.Hour)},
		{ID: "4", Name: "hourly", Created: ago(30 * time.Minute)},
		{ID: "5", Name: "hourly", Created: ago(3 * time.Hour)},
		{ID: "6", Name: "custom", Created: ago(49 * time.Hour)},
	}}
	ledger, err := history.NewLedger(context.Background(), store)
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}

	jobs := []config.JobConfig{
		{Name: "docs", Schedule: "daily", Repeat: true},
		{Name: "photos", Schedule: "weekly", Repeat: true},
		{Name: "once", Schedule: "daily"},
		{Name: "hourly", Schedule: "hourly", Repeat: true},
		{Name: "custom", Schedule: "custom:2:days", Repeat: true},
		{Name: "fresh", Schedule: "monthly"},
		{Name: "manual"},
	}

	due := findDueJobs(schedule.NewEngineWithClock(func() time.Time { return now }), ledger, jobs)

	var names []string
	for _, d := range due {
		names = append(names, d.job.Name)
	}
	want := []string{"docs", "custom", "fresh"}
	if !slices.Equal(names, want) {
		t.Fatalf("expected due jobs %v, got %v", want, names)
	}

	for _, d := range due {
		switch d.job.Name {
		case "fresh":
			if !d.neverRun {
				t.Error("expected fresh to be reported as never run")
			}
		case "docs":
			if d.neverRun || !d.lastRun.Equal(ago(26*time.Hour)) {
				t.Errorf("unexpected last run for docs: %v (never=%v)", d.lastRun, d.neverRun)
			}
		}
	}
}
