package schedule

import (
	"time"

	"github.com/paulschiretz/pgl-rsync/pkg/plog"
)

// LastRunLayout is the textual form of a last-run timestamp ("YYYY-MM-DD HH:MM").
const LastRunLayout = "2006-01-02 15:04"

// monthDays approximates a month. Calendar months are not resolved.
const monthDays = 30

// Engine computes next run times and due-ness against a wall clock.
// It holds no state besides the clock and is safe for concurrent use.
type Engine struct {
	now func() time.Time
}

// NewEngine returns an Engine reading the system clock.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineWithClock returns an Engine reading now on every call.
func NewEngineWithClock(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// NextRunTime returns lastRun plus the schedule interval. A nil lastRun means now.
// ok is false for an invalid spec.
func (e *Engine) NextRunTime(spec Spec, lastRun *time.Time) (next time.Time, ok bool) {
	if !spec.Valid() {
		return time.Time{}, false
	}

	base := e.now()
	if lastRun != nil {
		base = *lastRun
	}

	switch spec.Kind {
	case Hourly:
		return base.Add(time.Hour), true
	case Daily:
		return base.AddDate(0, 0, 1), true
	case Weekly:
		return base.AddDate(0, 0, 7), true
	case Monthly:
		return base.AddDate(0, 0, monthDays), true
	case Custom:
		switch spec.Unit {
		case Hours:
			return base.Add(time.Duration(spec.Value) * time.Hour), true
		case Days:
			return base.AddDate(0, 0, spec.Value), true
		case Weeks:
			return base.AddDate(0, 0, 7*spec.Value), true
		}
	}
	return time.Time{}, false
}

// NextRunTimeText is NextRunTime with the last run given in LastRunLayout.
// Empty or unparseable text falls back to now.
func (e *Engine) NextRunTimeText(spec Spec, lastRun string) (time.Time, bool) {
	if lastRun == "" {
		return e.NextRunTime(spec, nil)
	}
	t, err := time.ParseInLocation(LastRunLayout, lastRun, time.Local)
	if err != nil {
		plog.Debug("Unparseable last run timestamp, using current time", "lastRun", lastRun, "error", err)
		return e.NextRunTime(spec, nil)
	}
	return e.NextRunTime(spec, &t)
}

// IsDue reports whether a job with schedule text, last run at lastRun (LastRunLayout),
// should run now. Invalid schedules are never due.
func (e *Engine) IsDue(text, lastRun string) bool {
	spec, ok := Parse(text)
	if !ok {
		return false
	}
	next, ok := e.NextRunTimeText(spec, lastRun)
	if !ok {
		return false
	}
	return !e.now().Before(next)
}

// IsDueSince is IsDue for a last run already held as a time.
func (e *Engine) IsDueSince(text string, lastRun time.Time) bool {
	spec, ok := Parse(text)
	if !ok {
		return false
	}
	next, ok := e.NextRunTime(spec, &lastRun)
	if !ok {
		return false
	}
	return !e.now().Before(next)
}
