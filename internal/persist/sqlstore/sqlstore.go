// Package sqlstore is a persist.Backend on SQLite through gorm. Several
// processes may share the database file; changes are noticed by polling a
// per-entry version.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"cartsync/internal/persist"
)

// Entry is one stored collection document.
type Entry struct {
	Key       string    `gorm:"column:cache_key;primaryKey;size:191"`
	Data      []byte    `gorm:"not null"`
	Version   int64     `gorm:"not null;default:1"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for Entry model.
func (Entry) TableName() string {
	return "cache_entries"
}

// Store implements persist.Backend on a gorm database.
type Store struct {
	db       *gorm.DB
	interval time.Duration
}

// Open opens (or creates) the SQLite database at path and migrates the schema.
func Open(path string, pollInterval time.Duration) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite cache %s: %w", path, err)
	}
	return New(db, pollInterval)
}

// New wraps an existing gorm database and migrates the schema.
func New(db *gorm.DB, pollInterval time.Duration) (*Store, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrating cache schema: %w", err)
	}
	return &Store{db: db, interval: pollInterval}, nil
}

// Read implements persist.Backend.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	var e Entry
	err := s.db.WithContext(ctx).First(&e, "cache_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, persist.ErrAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return e.Data, nil
}

// Write implements persist.Backend as an upsert that bumps the entry version.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	now := time.Now().UTC()
	e := Entry{Key: key, Data: data, Version: 1, UpdatedAt: now}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"data":       data,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Remove implements persist.Backend.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&Entry{}, "cache_key = ?", key).Error; err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Subscribe implements persist.Backend by polling the entry's version.
func (s *Store) Subscribe(key string, fn func()) func() {
	return persist.PollChanges(s.interval, func() string {
		var e Entry
		err := s.db.Select("version", "updated_at").First(&e, "cache_key = ?", key).Error
		if err != nil {
			return "absent"
		}
		return strconv.FormatInt(e.Version, 10) + "/" + strconv.FormatInt(e.UpdatedAt.UnixNano(), 10)
	}, fn)
}

// Close closes the underlying database connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ persist.Backend = (*Store)(nil)
