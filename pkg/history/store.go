package history

import (
	"context"
	"fmt"
)

// Store loads and saves the complete history.
type Store interface {
	// Load returns every stored record, oldest first. A missing store is empty, not an error.
	Load(ctx context.Context) ([]Record, error)
	// Save writes records as the complete history.
	Save(ctx context.Context, records []Record) error
	Close() error
}

// Open returns the Store for backend at path.
func Open(backend Backend, path string) (Store, error) {
	switch backend {
	case JSON:
		return NewJSONStore(path), nil
	case SQLite:
		return OpenSQLStore(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
}
