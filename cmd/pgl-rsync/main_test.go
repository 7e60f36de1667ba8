package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-rsync/pkg/plog"
)

func TestMain(m *testing.M) {
	plog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// silenceStdout discards what flag usage and version output print during a test.
func silenceStdout(t *testing.T) {
	t.Helper()
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	origStdout, origStderr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = devNull, devNull
	t.Cleanup(func() {
		os.Stdout, os.Stderr = origStdout, origStderr
		devNull.Close()
	})
}

func TestRun(t *testing.T) {
	dataDir := t.TempDir()

	tests := []struct {
		name          string
		args          []string
		expectError   bool
		errorContains string
	}{
		{name: "No arguments prints help", args: nil},
		{name: "Help", args: []string{"help"}},
		{name: "Subcommand help", args: []string{"backup", "-h"}},
		{name: "Version", args: []string{"version"}},
		{name: "Schedule", args: []string{"schedule", "-interval", "custom:3:days", "-last-run", "2024-01-01 10:00"}},
		{name: "Invalid schedule", args: []string{"schedule", "-interval", "fortnightly"}, expectError: true, errorContains: "invalid schedule"},
		{name: "Unknown command", args: []string{"restore"}, expectError: true, errorContains: "invalid command"},
		{name: "Backup without job", args: []string{"backup", "-data-dir", dataDir}, expectError: true, errorContains: "-job"},
		{name: "List empty history", args: []string{"list", "-data-dir", dataDir}},
		{name: "Due without jobs", args: []string{"due", "-data-dir", dataDir}},
		{name: "Init", args: []string{"init", "-data-dir", filepath.Join(dataDir, "fresh")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			silenceStdout(t)
			err := run(context.Background(), tc.args)
			if tc.expectError {
				if err == nil {
					t.Fatal("expected error, but got nil")
				}
				if !strings.Contains(err.Error(), tc.errorContains) {
					t.Errorf("expected error to contain %q, but got: %v", tc.errorContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
