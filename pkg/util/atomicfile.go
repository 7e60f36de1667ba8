package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to a temp file next to path, syncs it and renames it
// over path, so readers never see a partially written file. The owner-write bit
// is always added to perm so the next write can replace the file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	// The temp file must live on the same filesystem for the rename to be atomic.
	tmpF, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temp file for %s: %w", path, err)
	}
	tmpName := tmpF.Name()
	// No-op after a successful rename.
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmpF.Write(data); err != nil {
		tmpF.Close()
		return fmt.Errorf("could not write temp file %s: %w", tmpName, err)
	}
	if err := tmpF.Sync(); err != nil {
		tmpF.Close()
		return fmt.Errorf("could not sync temp file %s: %w", tmpName, err)
	}
	if err := tmpF.Close(); err != nil {
		return fmt.Errorf("could not close temp file %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, WithUserWritePermission(perm)); err != nil {
		return fmt.Errorf("could not set permissions on %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("could not rename %s to %s: %w", tmpName, path, err)
	}
	return nil
}
