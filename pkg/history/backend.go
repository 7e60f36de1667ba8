package history

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

// ErrUnknownBackend is returned by Open for a backend it cannot construct.
var ErrUnknownBackend = errors.New("unknown history backend")

// Backend selects the storage behind a Store.
type Backend int

const (
	JSON Backend = iota
	SQLite
)

var backendToString = map[Backend]string{
	JSON:   "json",
	SQLite: "sqlite",
}

var stringToBackend map[string]Backend

func init() {
	stringToBackend = util.InvertMap(backendToString)
}

// String returns the string representation of a Backend.
func (b Backend) String() string {
	if str, ok := backendToString[b]; ok {
		return str
	}
	return fmt.Sprintf("unknown_backend(%d)", b)
}

// ParseBackend parses a string and returns the corresponding Backend.
func ParseBackend(s string) (Backend, error) {
	if b, ok := stringToBackend[s]; ok {
		return b, nil
	}
	return 0, fmt.Errorf("%w: %q. Must be 'json' or 'sqlite'", ErrUnknownBackend, s)
}

// MarshalJSON implements the json.Marshaler interface for Backend.
func (b Backend) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Backend.
func (b *Backend) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("Backend should be a string, got %s", data)
	}
	backend, err := ParseBackend(s)
	if err != nil {
		return err
	}
	*b = backend
	return nil
}

// DefaultFileName returns the conventional history file name for the backend.
func (b Backend) DefaultFileName() string {
	if b == SQLite {
		return "history.db"
	}
	return "history.json"
}
