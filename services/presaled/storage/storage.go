// Package storage persists the presaled ledger, event journal and purchase
// receipts through gorm on SQLite or Postgres.
package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gepspresale/services/presaled/config"
)

var (
	// ErrPathRequired is returned when the sqlite path is missing.
	ErrPathRequired = errors.New("presaled storage path must be configured")
	// ErrOverflow is returned when a balance would exceed 256 bits.
	ErrOverflow = errors.New("presaled storage: amount overflows uint256")
)

// Store wraps the presaled database handle.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and applies migrations.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		dsn := strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			var err error
			dsn, err = FileDSN(cfg.Path)
			if err != nil {
				return nil, err
			}
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(strings.TrimSpace(cfg.DSN))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	return OpenDialector(dialector)
}

// OpenDialector opens the store on an explicit gorm dialector.
func OpenDialector(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
