package flagparse

import (
	"os"
	"testing"
)

// equalSlices is a helper to compare two string slices for equality.
func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}

func TestParseExcludeList(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{"Simple List", "a,b,c", []string{"a", "b", "c"}},
		{"List with Spaces", " a , b, c ", []string{"a", "b", "c"}},
		{"Empty String", "", nil},
		{"Quoted Item with Spaces", "'item with spaces',b", []string{"item with spaces", "b"}},
		{"Quoted Item with Comma", "'a,b',c", []string{"a,b", "c"}},
		{"Mixed Quoted and Unquoted", "a,'b,c',d", []string{"a", "b,c", "d"}},
		{"Unmatched Quote", "'a,b", []string{"a,b"}},
		{"Multiple Quoted Items", "'a b','c d'", []string{"a b", "c d"}},
		{"Double Quoted Item with Spaces", "\"item with spaces\",b", []string{"item with spaces", "b"}},
		{"Nested Quotes", "'a \"b\" c',d", []string{"a \"b\" c", "d"}},
		{"Nested Quotes 2", "\"it's a test\",d", []string{"it's a test", "d"}},
		{"Windows Path with Backslashes", `C:\Users\Test,D:\Data`, []string{`C:\Users\Test`, `D:\Data`}},
		{"Unix Path with Slashes", "/home/user/test,/var/log", []string{"/home/user/test", "/var/log"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := ParseExcludeList(tc.input)

			// Handle the case where an empty input should result in a nil or empty slice.
			if len(tc.expected) == 0 && len(result) == 0 {
				// This is a pass, so we can return early.
				return
			}

			if !equalSlices(result, tc.expected) {
				t.Errorf("expected %v, but got %v", tc.expected, result)
			}
		})
	}
}

func TestParseCmdList(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{"Simple List", "cmd1,cmd2", []string{"cmd1", "cmd2"}},
		{"Quoted Item with Spaces", "'echo hello',cmd2", []string{"'echo hello'", "cmd2"}},
		{"Quoted Item with Comma", "'echo a,b',c", []string{"'echo a,b'", "c"}},
		{"Unmatched Quote", "'a,b", []string{"'a,b"}},
		{"Multiple Quoted Items", "'a b','c d'", []string{"'a b'", "'c d'"}},
		{"Double Quoted Item with Spaces", "\"item with spaces\",b", []string{"\"item with spaces\"", "b"}},
		{"Mixed Single and Double Quotes", "'a b',\"c,d\",e", []string{"'a b'", "\"c,d\"", "e"}},
		{"Nested Quotes", "'a \"b\" c',d", []string{"'a \"b\" c'", "d"}},
		{"Escaped Single Quote Inside Single Quotes", "'hello\\'world',next", []string{"'hello\\'world'", "next"}},
		{"Escaped Double Quote Inside Double Quotes", "\"hello\\\"world\",next", []string{"\"hello\\\"world\"", "next"}},
		{"Escaped Comma Outside Quotes", "a\\,b,c", []string{"a\\,b", "c"}},
		{"Escaped Backslash", "'a\\\\b',c", []string{"'a\\\\b'", "c"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := ParseCmdList(tc.input)

			// Handle the case where an empty input should result in a nil or empty slice.
			if len(tc.expected) == 0 && len(result) == 0 {
				// This is a pass, so we can return early.
				return
			}

			if !equalSlices(result, tc.expected) {
				t.Errorf("expected %v, but got %v", tc.expected, result)
			}
		})
	}
}

func TestParse(t *testing.T) {
	// Usage output goes to stderr; keep test output clean.
	stderr := os.Stderr
	devNull, _ := os.Open(os.DevNull)
	os.Stderr = devNull
	t.Cleanup(func() { os.Stderr = stderr; devNull.Close() })

	testCases := []struct {
		name        string
		args        []string
		wantCommand Command
		wantFlags   map[string]any
		expectError bool
	}{
		{
			name:        "No args",
			args:        nil,
			wantCommand: None,
		},
		{
			name:        "Version",
			args:        []string{"version"},
			wantCommand: Version,
		},
		{
			name:        "Backup job",
			args:        []string{"backup", "-job", "docs", "-dry-run"},
			wantCommand: Backup,
			wantFlags:   map[string]any{"job": "docs", "dry-run": true},
		},
		{
			name:        "Backup ad hoc with lists",
			args:        []string{"backup", "-job", "docs", "-source", "/home/u/docs", "-destination", "/mnt/usb", "-mode", "sync", "-exclude-dirs", "cache,'tmp dir'"},
			wantCommand: Backup,
			wantFlags: map[string]any{
				"job":          "docs",
				"source":       "/home/u/docs",
				"destination":  "/mnt/usb",
				"mode":         "sync",
				"exclude-dirs": []string{"cache", "tmp dir"},
			},
		},
		{
			name:        "Due with run",
			args:        []string{"DUE", "-run"},
			wantCommand: Due,
			wantFlags:   map[string]any{"run": true},
		},
		{
			name:        "Schedule",
			args:        []string{"schedule", "-interval", "custom:3:days", "-last-run", "2024-06-01 10:00"},
			wantCommand: Schedule,
			wantFlags:   map[string]any{"interval": "custom:3:days", "last-run": "2024-06-01 10:00"},
		},
		{
			name:        "Schedule without interval",
			args:        []string{"schedule"},
			wantCommand: Schedule,
			expectError: true,
		},
		{
			name:        "List",
			args:        []string{"list", "-job", "docs", "-asc", "-limit", "5"},
			wantCommand: List,
			wantFlags:   map[string]any{"job": "docs", "asc": true, "limit": 5},
		},
		{
			name:        "Unknown command",
			args:        []string{"prune"},
			wantCommand: None,
			expectError: true,
		},
		{
			name:        "Flag not registered for command",
			args:        []string{"due", "-source", "/x"},
			wantCommand: Due,
			expectError: true,
		},
		{
			name:        "Stray positional argument",
			args:        []string{"list", "extra"},
			wantCommand: List,
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, flags, err := Parse(tc.args)
			if cmd != tc.wantCommand {
				t.Errorf("expected command %v, got %v", tc.wantCommand, cmd)
			}
			if tc.expectError {
				if err == nil {
					t.Fatal("expected an error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(flags) != len(tc.wantFlags) {
				t.Fatalf("expected %d flags, got %d: %v", len(tc.wantFlags), len(flags), flags)
			}
			for name, want := range tc.wantFlags {
				got, ok := flags[name]
				if !ok {
					t.Errorf("flag %q missing", name)
					continue
				}
				if ws, isSlice := want.([]string); isSlice {
					if !equalSlices(got.([]string), ws) {
						t.Errorf("flag %q: expected %v, got %v", name, ws, got)
					}
					continue
				}
				if got != want {
					t.Errorf("flag %q: expected %v, got %v", name, want, got)
				}
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	for _, name := range []string{"backup", "due", "schedule", "list", "init", "version"} {
		c, err := ParseCommand(name)
		if err != nil {
			t.Errorf("ParseCommand(%q) failed: %v", name, err)
		}
		if c.String() != name {
			t.Errorf("expected round trip of %q, got %q", name, c.String())
		}
	}
	if _, err := ParseCommand("restore"); err == nil {
		t.Error("expected an error for an unknown command")
	}
}
