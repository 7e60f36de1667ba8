// Package history persists one record per finished backup run.
//
// The full list of records is loaded once into a Ledger, appended to in memory
// and written back wholesale on each flush. Two Store backends exist: a JSON
// file (the default) and a SQLite database.
package history

import (
	"time"
)

// Record is the persisted, immutable summary of one backup run.
type Record struct {
	ID          string    `json:"id" gorm:"primaryKey;size:8"`
	Name        string    `json:"name" gorm:"index"`
	Method      string    `json:"method"`
	Mode        string    `json:"mode"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Created     time.Time `json:"created" gorm:"index"`
	Timestamp   string    `json:"timestamp"`
	Repeat      bool      `json:"repeat"`
	Description string    `json:"description"`

	IncludeFiles []string `json:"includeFiles,omitempty" gorm:"serializer:json"`
	IncludeDirs  []string `json:"includeDirs,omitempty" gorm:"serializer:json"`
	ExcludeFiles []string `json:"excludeFiles,omitempty" gorm:"serializer:json"`
	ExcludeDirs  []string `json:"excludeDirs,omitempty" gorm:"serializer:json"`

	LogFile       string `json:"logFile"`
	FileCount     int64  `json:"fileCount"`
	TotalBytes    int64  `json:"totalBytes"`
	ArchivedFiles int64  `json:"archivedFiles"`
	ExitCode      int    `json:"exitCode"`

	ParentID     string `json:"parentID,omitempty"`
	BaselinePath string `json:"baselinePath,omitempty"`

	Errors []string `json:"errors,omitempty" gorm:"serializer:json"`
}

// TableName pins the SQLite table name.
func (Record) TableName() string {
	return "backups"
}

// Complete reports whether every scanned file was archived.
func (r Record) Complete() bool {
	return r.ArchivedFiles >= r.FileCount
}
