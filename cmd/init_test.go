package cmd_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-rsync/cmd"
	"github.com/paulschiretz/pgl-rsync/pkg/config"
	"github.com/paulschiretz/pgl-rsync/pkg/planner"
	"github.com/paulschiretz/pgl-rsync/pkg/plog"
)

func TestPromptForConfirmation(t *testing.T) {
	// Helper to mock stdin/stdout and run the function
	mockPrompt := func(input string, prompt string, defaultYes bool) (bool, string) {
		// Pipe for stdin
		rIn, wIn, _ := os.Pipe()
		// Pipe for stdout
		rOut, wOut, _ := os.Pipe()

		// Save original stdin/stdout
		origStdin := os.Stdin
		origStdout := os.Stdout
		defer func() {
			os.Stdin = origStdin
			os.Stdout = origStdout
		}()

		// Redirect
		os.Stdin = rIn
		os.Stdout = wOut

		// Write input
		go func() {
			_, _ = wIn.WriteString(input)
			_ = wIn.Close()
		}()

		// Run the function
		result := cmd.PromptForConfirmation(prompt, defaultYes)

		// Close writer to read output
		_ = wOut.Close()
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)

		return result, buf.String()
	}

	tests := []struct {
		name       string
		input      string
		prompt     string
		defaultYes bool
		want       bool
		wantPrompt string
	}{
		{"Explicit Yes", "y\n", "Continue?", false, true, "Continue? [y/N]: "},
		{"Explicit No", "n\n", "Continue?", true, false, "Continue? [Y/n]: "},
		{"Default Yes (Empty)", "\n", "Sure?", true, true, "Sure? [Y/n]: "},
		{"Default No (Empty)", "\n", "Sure?", false, false, "Sure? [y/N]: "},
		{"Case Insensitive", "YES\n", "Go?", false, true, "Go? [y/N]: "},
		{"Whitespace Handling", "   y   \n", "Clean?", false, true, "Clean? [y/N]: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, output := mockPrompt(tt.input, tt.prompt, tt.defaultYes)
			if got != tt.want {
				t.Errorf("promptForConfirmation() = %v, want %v", got, tt.want)
			}
			if !strings.Contains(output, tt.wantPrompt) {
				t.Errorf("Output = %q, want substring %q", output, tt.wantPrompt)
			}
		})
	}
}

func TestRunInit(t *testing.T) {
	plog.SetOutput(io.Discard)
	defer plog.SetOutput(os.Stderr)

	dataDir := filepath.Join(t.TempDir(), "data")
	source := t.TempDir()
	ctx := context.Background()

	t.Run("Creates config with a first job", func(t *testing.T) {
		flags := map[string]any{
			"data-dir":     dataDir,
			"job":          "docs",
			"source":       source,
			"destination":  filepath.Join(t.TempDir(), "backups"),
			"mode":         "incremental",
			"interval":     "daily",
			"repeat":       true,
			"exclude-dirs": []string{"cache"},
		}
		if err := cmd.RunInit(ctx, flags); err != nil {
			t.Fatalf("RunInit failed: %v", err)
		}

		cfg, err := config.Load(dataDir)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		job, ok := cfg.Job("docs")
		if !ok {
			t.Fatal("expected job docs in the written config")
		}
		if job.Mode != planner.Incremental || job.Schedule != "daily" || !job.Repeat || len(job.ExcludeDirs) != 1 {
			t.Errorf("unexpected job: %+v", job)
		}
	})

	t.Run("Adds a second job and keeps the first", func(t *testing.T) {
		flags := map[string]any{
			"data-dir":    dataDir,
			"job":         "photos",
			"source":      source,
			"destination": "backup-host:/srv/photos",
		}
		if err := cmd.RunInit(ctx, flags); err != nil {
			t.Fatalf("RunInit failed: %v", err)
		}
		cfg, err := config.Load(dataDir)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(cfg.Jobs) != 2 {
			t.Fatalf("expected 2 jobs, got %d", len(cfg.Jobs))
		}
		if job, _ := cfg.Job("photos"); job.Mode != planner.Sync || job.Destination != "backup-host:/srv/photos" {
			t.Errorf("unexpected ad hoc job: %+v", job)
		}
	})

	t.Run("Missing source fails preflight", func(t *testing.T) {
		flags := map[string]any{
			"data-dir":    dataDir,
			"job":         "broken",
			"source":      filepath.Join(t.TempDir(), "missing"),
			"destination": t.TempDir(),
		}
		err := cmd.RunInit(ctx, flags)
		if err == nil || !strings.Contains(err.Error(), "preflight") {
			t.Fatalf("expected preflight error, got %v", err)
		}
		cfg, _ := config.Load(dataDir)
		if _, ok := cfg.Job("broken"); ok {
			t.Error("expected the failed job not to be written")
		}
	})

	t.Run("Dry run writes nothing", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "dry")
		if err := cmd.RunInit(ctx, map[string]any{"data-dir": dir, "dry-run": true}); err != nil {
			t.Fatalf("RunInit failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, config.ConfigFileName)); !os.IsNotExist(err) {
			t.Errorf("expected no config file after a dry run, stat err: %v", err)
		}
	})

	t.Run("Force resets to defaults", func(t *testing.T) {
		if err := cmd.RunInit(ctx, map[string]any{"data-dir": dataDir, "force": true}); err != nil {
			t.Fatalf("RunInit failed: %v", err)
		}
		cfg, err := config.Load(dataDir)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(cfg.Jobs) != 0 {
			t.Errorf("expected no jobs after -force, got %d", len(cfg.Jobs))
		}
	})
}
