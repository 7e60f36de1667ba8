package planner

import (
	"encoding/json"
	"fmt"

	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

// Mode is the kind of backup a plan performs.
type Mode int

// Constants for Mode, acting as an enum.
const (
	// Plain copies into the destination and never deletes from it.
	Plain Mode = iota
	// Sync mirrors the source: files missing from the source are deleted from the destination.
	Sync
	// Incremental writes each run into a fresh timestamped directory, hard-linking
	// unchanged files against the previous run.
	Incremental
)

var modeToString = map[Mode]string{
	Plain:       "plain",
	Sync:        "sync",
	Incremental: "incremental",
}
var stringToMode = map[string]Mode{}

func init() {
	stringToMode = util.InvertMap(modeToString)
}

// String returns the string representation of a Mode.
func (m Mode) String() string {
	if str, ok := modeToString[m]; ok {
		return str
	}
	return fmt.Sprintf("unknown_backup_mode(%d)", m)
}

// ParseMode parses a string and returns the corresponding Mode.
func ParseMode(s string) (Mode, error) {
	if mode, ok := stringToMode[s]; ok {
		return mode, nil
	}
	return 0, fmt.Errorf("invalid backup mode: %q. Must be 'plain', 'sync' or 'incremental'", s)
}

// MarshalJSON implements the json.Marshaler interface for Mode.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Mode.
func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("Mode should be a string, got %s", data)
	}

	mode, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// State is the lifecycle position of a BackupPlan.
type State int

const (
	Created State = iota
	Scanned
	CommandBuilt
	Executed
	Finished
)

var stateToString = map[State]string{
	Created:      "created",
	Scanned:      "scanned",
	CommandBuilt: "command_built",
	Executed:     "executed",
	Finished:     "finished",
}

// String returns the string representation of a State.
func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_plan_state(%d)", s)
}
