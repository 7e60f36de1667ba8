// Package schedule parses recurring backup intervals and decides whether a job is due.
//
// Schedules are stored as compact strings:
//
//	hourly | daily | weekly | monthly | custom:<positive-int>:<hours|days|weeks>
//
// Anything else is "no schedule". Parsing never fails loudly; callers check the
// returned ok flag instead.
package schedule

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

// Kind is the shape of a schedule.
type Kind int

const (
	None Kind = iota
	Hourly
	Daily
	Weekly
	Monthly
	Custom
)

var kindToString = map[Kind]string{
	None:    "",
	Hourly:  "hourly",
	Daily:   "daily",
	Weekly:  "weekly",
	Monthly: "monthly",
	Custom:  "custom",
}

var stringToKind map[string]Kind

// Unit is the unit of a custom interval.
type Unit int

const (
	Hours Unit = iota + 1
	Days
	Weeks
)

var unitToString = map[Unit]string{
	Hours: "hours",
	Days:  "days",
	Weeks: "weeks",
}

var stringToUnit map[string]Unit

func init() {
	stringToKind = util.InvertMap(kindToString)
	stringToUnit = util.InvertMap(unitToString)
}

// String returns the string representation of a Kind.
func (k Kind) String() string {
	if str, ok := kindToString[k]; ok {
		return str
	}
	return fmt.Sprintf("unknown_schedule_kind(%d)", k)
}

// String returns the string representation of a Unit.
func (u Unit) String() string {
	if str, ok := unitToString[u]; ok {
		return str
	}
	return fmt.Sprintf("unknown_schedule_unit(%d)", u)
}

// singular returns the unit name used with a value of one.
func (u Unit) singular() string {
	return strings.TrimSuffix(u.String(), "s")
}

// Spec is a parsed schedule. Value and Unit are only meaningful for Custom.
// The zero value is "no schedule".
type Spec struct {
	Kind  Kind
	Value int
	Unit  Unit
}

// Every returns a custom schedule of value units. ok is false if the
// combination cannot be represented.
func Every(value int, unit Unit) (Spec, bool) {
	s := Spec{Kind: Custom, Value: value, Unit: unit}
	return s, s.Valid()
}

// Valid reports whether s is a schedule that can be formatted and evaluated.
func (s Spec) Valid() bool {
	switch s.Kind {
	case Hourly, Daily, Weekly, Monthly:
		return true
	case Custom:
		_, unitOK := unitToString[s.Unit]
		return unitOK && s.Value > 0 && s.Value <= maxValue(s.Unit)
	default:
		return false
	}
}

// maxValue is the largest custom value of unit whose interval fits in a time.Duration.
func maxValue(u Unit) int {
	hours := int64(math.MaxInt64 / int64(time.Hour))
	switch u {
	case Days:
		return int(hours / 24)
	case Weeks:
		return int(hours / (7 * 24))
	default:
		return int(hours)
	}
}

// Parse reads a schedule string. It returns ok=false for empty or malformed input.
func Parse(text string) (Spec, bool) {
	if text == "" {
		return Spec{}, false
	}

	parts := strings.Split(text, ":")
	kind, ok := stringToKind[parts[0]]
	if !ok {
		return Spec{}, false
	}

	switch kind {
	case Hourly, Daily, Weekly, Monthly:
		if len(parts) != 1 {
			return Spec{}, false
		}
		return Spec{Kind: kind}, true
	case Custom:
		if len(parts) != 3 {
			return Spec{}, false
		}
		value, ok := parsePositive(parts[1])
		if !ok {
			return Spec{}, false
		}
		unit, ok := stringToUnit[parts[2]]
		if !ok {
			return Spec{}, false
		}
		spec := Spec{Kind: Custom, Value: value, Unit: unit}
		if !spec.Valid() {
			return Spec{}, false
		}
		return spec, true
	default:
		return Spec{}, false
	}
}

// parsePositive accepts only plain decimal digits with a value above zero.
func parsePositive(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// Format renders s in the form accepted by Parse. Invalid specs render as "".
func (s Spec) Format() string {
	if !s.Valid() {
		return ""
	}
	if s.Kind == Custom {
		return fmt.Sprintf("custom:%d:%s", s.Value, s.Unit)
	}
	return s.Kind.String()
}

func (s Spec) String() string {
	return s.Format()
}

// MarshalJSON implements the json.Marshaler interface for Spec.
func (s Spec) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Format())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Spec.
// An empty string is "no schedule"; anything else must parse.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("schedule should be a string, got %s", data)
	}
	if text == "" {
		*s = Spec{}
		return nil
	}
	spec, ok := Parse(text)
	if !ok {
		return fmt.Errorf("invalid schedule: %q. Must be 'hourly', 'daily', 'weekly', 'monthly' or 'custom:<n>:<hours|days|weeks>'", text)
	}
	*s = spec
	return nil
}

// Describe returns a human readable phrase for a schedule string.
func Describe(text string) string {
	spec, ok := Parse(text)
	if !ok {
		return "No schedule"
	}
	return spec.Describe()
}

// Describe returns a human readable phrase for s.
func (s Spec) Describe() string {
	switch s.Kind {
	case Hourly:
		return "Every hour"
	case Daily:
		return "Every day"
	case Weekly:
		return "Every week"
	case Monthly:
		return "Every month"
	case Custom:
		if !s.Valid() {
			return "No schedule"
		}
		if s.Value == 1 {
			return "Every 1 " + s.Unit.singular()
		}
		return fmt.Sprintf("Every %d %s", s.Value, s.Unit)
	default:
		return "No schedule"
	}
}
