package history

import (
	"context"
	"slices"
	"sync"

	"github.com/paulschiretz/pgl-rsync/pkg/plog"
)

// Ledger is the in-memory history. Appends never fail; Flush writes the whole
// list to the Store and can be retried after an error without losing records.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	records []Record
	// pending holds the records appended since the last successful Flush.
	pending []Record
}

// NewLedger loads the current history from store.
func NewLedger(ctx context.Context, store Store) (*Ledger, error) {
	records, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	plog.Debug("History loaded", "records", len(records))
	return &Ledger{store: store, records: records}, nil
}

// Append adds r to the in-memory history.
func (l *Ledger) Append(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
	l.pending = append(l.pending, r)
}

// Flush writes the complete history to the store.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Save(ctx, l.records); err != nil {
		return err
	}
	l.pending = nil
	return nil
}

// Reload replaces the in-memory history with the stored one and re-applies the
// records not yet flushed. Call it under a cross-process lock before Flush when
// other processes may have written the store since NewLedger.
func (l *Ledger) Reload(ctx context.Context) error {
	stored, err := l.store.Load(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{}, len(stored))
	for _, r := range stored {
		seen[r.ID] = struct{}{}
	}
	for _, r := range l.pending {
		if _, ok := seen[r.ID]; !ok {
			stored = append(stored, r)
		}
	}
	l.records = stored
	plog.Debug("History reloaded", "records", len(l.records), "pending", len(l.pending))
	return nil
}

// Dirty reports whether records were appended since the last successful Flush.
func (l *Ledger) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending) > 0
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Records returns a copy of the records for name (all records if name is empty)
// sorted by creation time in the given order.
func (l *Ledger) Records(name string, order SortOrder) []Record {
	l.mu.Lock()
	out := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		if name == "" || r.Name == name {
			out = append(out, r)
		}
	}
	l.mu.Unlock()

	slices.SortStableFunc(out, func(a, b Record) int {
		if order == Asc {
			return a.Created.Compare(b.Created)
		}
		return b.Created.Compare(a.Created)
	})
	return out
}

// Latest returns the most recent record for name.
func (l *Ledger) Latest(name string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var latest Record
	found := false
	for _, r := range l.records {
		if r.Name != name {
			continue
		}
		if !found || !r.Created.Before(latest.Created) {
			latest = r
			found = true
		}
	}
	return latest, found
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}
