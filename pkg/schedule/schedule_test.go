package schedule

import (
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-rsync/pkg/plog"
)

func TestMain(m *testing.M) {
	plog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestParse(t *testing.T) {
	testCases := []struct {
		input    string
		expected Spec
		ok       bool
	}{
		{"hourly", Spec{Kind: Hourly}, true},
		{"daily", Spec{Kind: Daily}, true},
		{"weekly", Spec{Kind: Weekly}, true},
		{"monthly", Spec{Kind: Monthly}, true},
		{"custom:2:weeks", Spec{Kind: Custom, Value: 2, Unit: Weeks}, true},
		{"custom:12:hours", Spec{Kind: Custom, Value: 12, Unit: Hours}, true},
		{"custom:1:days", Spec{Kind: Custom, Value: 1, Unit: Days}, true},
		{"", Spec{}, false},
		{"bogus", Spec{}, false},
		{"Daily", Spec{}, false},
		{"daily:extra", Spec{}, false},
		{"custom", Spec{}, false},
		{"custom:3", Spec{}, false},
		{"custom:3:months", Spec{}, false},
		{"custom:0:days", Spec{}, false},
		{"custom:-1:days", Spec{}, false},
		{"custom:+2:days", Spec{}, false},
		{"custom:x:days", Spec{}, false},
		{"custom:2:days:extra", Spec{}, false},
		{"custom:99999999999999999999:days", Spec{}, false},
		{"custom:2562047:hours", Spec{Kind: Custom, Value: 2562047, Unit: Hours}, true},
		{"custom:3000000:hours", Spec{}, false},
		{"custom:106751:days", Spec{Kind: Custom, Value: 106751, Unit: Days}, true},
		{"custom:106752:days", Spec{}, false},
		{"custom:15251:weeks", Spec{}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, ok := Parse(tc.input)
			if ok != tc.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tc.input, ok, tc.ok)
			}
			if got != tc.expected {
				t.Errorf("Parse(%q) = %+v, want %+v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	specs := []Spec{
		{Kind: Hourly},
		{Kind: Daily},
		{Kind: Weekly},
		{Kind: Monthly},
		{Kind: Custom, Value: 1, Unit: Hours},
		{Kind: Custom, Value: 3, Unit: Weeks},
		{Kind: Custom, Value: 45, Unit: Days},
	}
	for _, spec := range specs {
		text := spec.Format()
		got, ok := Parse(text)
		if !ok || got != spec {
			t.Errorf("Parse(Format(%+v)) = %+v, %v (text %q)", spec, got, ok, text)
		}
	}

	if got := (Spec{Kind: Custom, Value: 3, Unit: Weeks}).Format(); got != "custom:3:weeks" {
		t.Errorf("expected custom:3:weeks, got %q", got)
	}
	if got := (Spec{Kind: Custom, Value: 0, Unit: Days}).Format(); got != "" {
		t.Errorf("expected invalid spec to format as empty, got %q", got)
	}
}

func TestEvery(t *testing.T) {
	if _, ok := Every(0, Days); ok {
		t.Error("expected Every(0, Days) to be rejected")
	}
	if _, ok := Every(2, Unit(42)); ok {
		t.Error("expected unknown unit to be rejected")
	}
	spec, ok := Every(2, Hours)
	if !ok || spec.Format() != "custom:2:hours" {
		t.Errorf("unexpected spec %+v (ok=%v)", spec, ok)
	}
}

func TestNextRunTime(t *testing.T) {
	last := time.Date(2024, time.June, 15, 10, 30, 0, 0, time.Local)
	e := NewEngineWithClock(fixedClock(last.Add(48 * time.Hour)))

	testCases := []struct {
		name     string
		spec     Spec
		expected time.Time
	}{
		{"Hourly", Spec{Kind: Hourly}, last.Add(time.Hour)},
		{"Daily", Spec{Kind: Daily}, last.AddDate(0, 0, 1)},
		{"Weekly", Spec{Kind: Weekly}, last.AddDate(0, 0, 7)},
		{"Monthly is thirty days", Spec{Kind: Monthly}, last.AddDate(0, 0, 30)},
		{"Custom hours", Spec{Kind: Custom, Value: 5, Unit: Hours}, last.Add(5 * time.Hour)},
		{"Custom days", Spec{Kind: Custom, Value: 3, Unit: Days}, last.AddDate(0, 0, 3)},
		{"Custom weeks", Spec{Kind: Custom, Value: 2, Unit: Weeks}, last.AddDate(0, 0, 14)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := e.NextRunTime(tc.spec, &last)
			if !ok {
				t.Fatal("expected a next run time")
			}
			if !got.Equal(tc.expected) {
				t.Errorf("expected %v, got %v", tc.expected, got)
			}
		})
	}

	t.Run("Hourly is exactly one hour", func(t *testing.T) {
		got, _ := e.NextRunTime(Spec{Kind: Hourly}, &last)
		if d := got.Sub(last); d != time.Hour {
			t.Errorf("expected exactly 1h, got %v", d)
		}
	})

	t.Run("Nil last run uses now", func(t *testing.T) {
		got, _ := e.NextRunTime(Spec{Kind: Hourly}, nil)
		if want := last.Add(49 * time.Hour); !got.Equal(want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("Largest custom values stay after the last run", func(t *testing.T) {
		for _, text := range []string{"custom:2562047:hours", "custom:106751:days", "custom:15250:weeks"} {
			spec, ok := Parse(text)
			if !ok {
				t.Fatalf("expected %q to parse", text)
			}
			got, ok := e.NextRunTime(spec, &last)
			if !ok || !got.After(last) {
				t.Errorf("NextRunTime(%q) = %v, want a time after %v", text, got, last)
			}
			if e.IsDueSince(text, last) {
				t.Errorf("expected %q not to be due two days after its last run", text)
			}
		}
	})

	t.Run("Out of range custom value", func(t *testing.T) {
		if _, ok := e.NextRunTime(Spec{Kind: Custom, Value: 3000000, Unit: Hours}, &last); ok {
			t.Error("expected no next run time for an interval beyond time.Duration")
		}
		if e.IsDueSince("custom:3000000:hours", last) {
			t.Error("expected an out of range schedule never to be due")
		}
	})

	t.Run("Invalid spec", func(t *testing.T) {
		if _, ok := e.NextRunTime(Spec{}, &last); ok {
			t.Error("expected no next run time for an empty spec")
		}
	})
}

func TestNextRunTimeText(t *testing.T) {
	now := time.Date(2024, time.June, 15, 10, 30, 0, 0, time.Local)
	e := NewEngineWithClock(fixedClock(now))

	got, ok := e.NextRunTimeText(Spec{Kind: Daily}, "2024-06-01 08:15")
	if !ok {
		t.Fatal("expected a next run time")
	}
	if want := time.Date(2024, time.June, 2, 8, 15, 0, 0, time.Local); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	for _, bad := range []string{"", "yesterday", "2024-06-01T08:15"} {
		got, ok := e.NextRunTimeText(Spec{Kind: Hourly}, bad)
		if !ok {
			t.Fatalf("expected fallback for %q", bad)
		}
		if want := now.Add(time.Hour); !got.Equal(want) {
			t.Errorf("NextRunTimeText(%q) = %v, want fallback %v", bad, got, want)
		}
	}
}

func TestIsDue(t *testing.T) {
	now := time.Date(2024, time.June, 15, 10, 30, 0, 0, time.Local)
	e := NewEngineWithClock(fixedClock(now))
	format := func(d time.Duration) string { return now.Add(-d).Format(LastRunLayout) }

	testCases := []struct {
		name     string
		schedule string
		lastRun  string
		expected bool
	}{
		{"Daily after 25h", "daily", format(25 * time.Hour), true},
		{"Daily after 1h", "daily", format(time.Hour), false},
		{"Daily exactly at boundary", "daily", format(24 * time.Hour), true},
		{"Hourly after 2h", "hourly", format(2 * time.Hour), true},
		{"Custom 3 hours after 2h", "custom:3:hours", format(2 * time.Hour), false},
		{"Weekly after 8 days", "weekly", format(8 * 24 * time.Hour), true},
		{"Monthly after 29 days", "monthly", format(29 * 24 * time.Hour), false},
		{"Unparseable last run means now", "hourly", "garbage", false},
		{"Invalid schedule is never due", "bogus", format(1000 * time.Hour), false},
		{"Empty schedule is never due", "", format(1000 * time.Hour), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := e.IsDue(tc.schedule, tc.lastRun); got != tc.expected {
				t.Errorf("IsDue(%q, %q) = %v, want %v", tc.schedule, tc.lastRun, got, tc.expected)
			}
		})
	}
}

func TestIsDueSince(t *testing.T) {
	now := time.Date(2024, time.June, 15, 10, 30, 0, 0, time.Local)
	e := NewEngineWithClock(fixedClock(now))

	if !e.IsDueSince("daily", now.Add(-25*time.Hour)) {
		t.Error("expected daily job last run 25h ago to be due")
	}
	if e.IsDueSince("daily", now.Add(-time.Hour)) {
		t.Error("expected daily job last run 1h ago not to be due")
	}
}

func TestDescribe(t *testing.T) {
	testCases := map[string]string{
		"hourly":         "Every hour",
		"daily":          "Every day",
		"weekly":         "Every week",
		"monthly":        "Every month",
		"custom:1:hours": "Every 1 hour",
		"custom:3:days":  "Every 3 days",
		"custom:2:weeks": "Every 2 weeks",
		"":               "No schedule",
		"custom:0:weeks": "No schedule",
		"every tuesday":  "No schedule",
	}
	for in, want := range testCases {
		if got := Describe(in); got != want {
			t.Errorf("Describe(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSpecJSON(t *testing.T) {
	type job struct {
		Schedule Spec `json:"schedule"`
	}

	data, err := json.Marshal(job{Schedule: Spec{Kind: Custom, Value: 4, Unit: Days}})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"schedule":"custom:4:days"}` {
		t.Errorf("unexpected JSON: %s", data)
	}

	var j job
	if err := json.Unmarshal([]byte(`{"schedule":""}`), &j); err != nil || j.Schedule.Valid() {
		t.Errorf("expected empty schedule to decode as none, got %+v (err %v)", j.Schedule, err)
	}
	if err := json.Unmarshal([]byte(`{"schedule":"fortnightly"}`), &j); err == nil {
		t.Error("expected an error for an invalid schedule")
	}
}
