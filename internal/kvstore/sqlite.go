package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// entry is one row of the kv_entries table
type entry struct {
	Key       string `gorm:"column:kv_key;primaryKey;size:128"`
	Value     []byte
	UpdatedAt time.Time
}

func (entry) TableName() string { return "kv_entries" }

// SQLiteStore persists entries in a SQLite database through GORM
type SQLiteStore struct {
	db   *gorm.DB
	path string
}

// OpenSQLite opens (creating when needed) the database at path.
func OpenSQLite(path string, log logger.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, storageError(err, "create_directory").Context("path", path).Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	})
	if err != nil {
		return nil, storageError(err, "open_database").Context("path", path).Build()
	}

	// WAL keeps readers off the writer's lock; a single connection keeps
	// SQLite writes serialised.
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return nil, storageError(err, "set_journal_mode").Build()
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, storageError(err, "migrate").Build()
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var e entry
	result := s.db.WithContext(ctx).Where("kv_key = ?", key).Limit(1).Find(&e)
	if result.Error != nil {
		return nil, false, storageError(result.Error, "get").Context("key", key).Build()
	}
	if result.RowsAffected == 0 {
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	e := entry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return storageError(err, "set").Context("key", key).Build()
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("kv_key = ?", key).Delete(&entry{}).Error; err != nil {
		return storageError(err, "delete").Context("key", key).Build()
	}
	return nil
}

// Close closes the underlying database handle
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func storageError(err error, operation string) *errors.ErrorBuilder {
	return errors.New(err).
		Component("kvstore").
		Category(errors.CategoryStorage).
		Context("operation", operation)
}
