package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

// jsonFileVersion is written into every history file.
const jsonFileVersion = 1

// jsonFile is the on-disk layout of the JSON history.
type jsonFile struct {
	Version int      `json:"version"`
	Backups []Record `json:"backups"`
}

// JSONStore keeps the history in a single JSON file. Writes replace the file
// atomically; use a LockedLedger when several processes share the file.
type JSONStore struct {
	path string
}

// NewJSONStore returns a store for the file at path. The file is created on first Save.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load reads the history file.
func (s *JSONStore) Load(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not open history file %s: %w", s.path, err)
	}
	defer f.Close()

	var content jsonFile
	if err := json.NewDecoder(f).Decode(&content); err != nil {
		return nil, fmt.Errorf("could not parse history file %s: %w. It may be corrupt", s.path, err)
	}
	return content.Backups, nil
}

// Save replaces the history file with records.
func (s *JSONStore) Save(ctx context.Context, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("could not create history directory: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(jsonFile{Version: jsonFileVersion, Backups: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal history: %w", err)
	}
	if err := util.WriteFileAtomic(s.path, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("could not write history file: %w", err)
	}
	return nil
}

// Close is a no-op; the file is only open during Load and Save.
func (s *JSONStore) Close() error {
	return nil
}
