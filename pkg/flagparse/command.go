package flagparse

import (
	"fmt"

	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

// CommandFlag defines the command to execute.
type Command int

const (
	None = iota
	Backup
	Version
	Init
	Due
	Schedule
	List
)

var commandToString = map[Command]string{
	None:     "none",
	Backup:   "backup",
	Version:  "version",
	Init:     "init",
	Due:      "due",
	Schedule: "schedule",
	List:     "list",
}

var stringToCommand map[string]Command

func init() {
	stringToCommand = util.InvertMap(commandToString)
}

func (c Command) String() string {
	if str, ok := commandToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_command(%d)", c)
}

func ParseCommand(s string) (Command, error) {
	if command, ok := stringToCommand[s]; ok {
		return command, nil
	}
	return None, fmt.Errorf("invalid command: %q. Must be 'backup', 'due', 'schedule', 'list', 'init', or 'version'", s)
}
