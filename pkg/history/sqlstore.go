package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

// SQLStore keeps the history in a SQLite database, one row per record.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore opens (and migrates) the SQLite database at path.
func OpenSQLStore(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("could not create history directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("could not open history database %s: %w", path, err)
	}

	// SQLite allows a single writer.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("could not get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Record{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("could not migrate history database: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Load returns all rows ordered by creation time.
func (s *SQLStore) Load(ctx context.Context) ([]Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).Order("created asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("could not load history: %w", err)
	}
	return records, nil
}

// Save upserts every record by id in one transaction. Rows are never deleted here.
func (s *SQLStore) Save(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(records, 100).Error
	})
	if err != nil {
		return fmt.Errorf("could not save history: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
