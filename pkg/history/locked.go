package history

import (
	"context"
	"fmt"

	"github.com/paulschiretz/pgl-rsync/pkg/lockfile"
)

// LockedLedger is a Ledger whose Flush holds a lock file while it reloads the
// store and writes it back. Records appended by other processes since the
// ledger was loaded survive the wholesale write.
type LockedLedger struct {
	*Ledger
	lockPath string
	owner    string
}

// NewLockedLedger wraps l. Every process sharing a history must use the same lockPath.
func NewLockedLedger(l *Ledger, lockPath, owner string) *LockedLedger {
	return &LockedLedger{Ledger: l, lockPath: lockPath, owner: owner}
}

// Flush reloads and writes the history under the lock.
func (l *LockedLedger) Flush(ctx context.Context) error {
	lock, err := lockfile.Acquire(ctx, l.lockPath, l.owner)
	if err != nil {
		return fmt.Errorf("could not lock history: %w", err)
	}
	defer lock.Release()

	if err := l.Ledger.Reload(ctx); err != nil {
		return err
	}
	return l.Ledger.Flush(ctx)
}
