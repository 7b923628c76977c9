package db

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/flarexio/tagger/conf"
)

// Open connects to the sqlite database described by cfg and migrates the
// schema. In-memory databases are shared by name within the process.
func Open(cfg conf.Persistence) (*gorm.DB, error) {
	dsn := filepath.Join(cfg.Host, cfg.Name+".db") + "?_busy_timeout=5000&_journal_mode=WAL"
	if cfg.InMem {
		dsn = "file:" + cfg.Name + "?mode=memory&cache=shared"
	} else if err := os.MkdirAll(cfg.Host, 0o755); err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// sqlite allows a single writer
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&Session{}, &Task{}, &Item{}, &Candidate{},
		&Album{}, &LibraryItem{},
	); err != nil {
		return nil, err
	}

	return db, nil
}
