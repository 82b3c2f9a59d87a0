// Package db opens the datastore, migrates the schema and seeds fixtures.
package db

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/diewo77/ecole/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var passwordRe = regexp.MustCompile(`(password=)([^\s]+)|(://[^:/]+:)([^@]+)(@)`)

// MaskDSN hides the password part of a key=value or URL DSN.
func MaskDSN(dsn string) string {
	return passwordRe.ReplaceAllString(dsn, `${1}${3}***${5}`)
}

// Open connects with the configured driver, retrying postgres while it starts.
// Timestamps are written in UTC and driver errors are translated to gorm's
// sentinel errors.
func Open(cfg config.DatabaseConfig, log *slog.Logger) (*gorm.DB, error) {
	level := logger.Silent
	if cfg.Debug {
		level = logger.Info
	}
	gcfg := &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	if cfg.Driver == "sqlite" {
		dsn := cfg.DSN()
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on"
		}
		db, err := gorm.Open(sqlite.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		log.Info("database opened", "driver", "sqlite", "path", cfg.SQLitePath)
		return db, nil
	}

	dsn := NormalizeDSN(cfg.DSN())
	if dsn == "" {
		return nil, fmt.Errorf("empty postgres DSN")
	}
	var db *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		db, err = gorm.Open(postgres.Open(dsn), gcfg)
		if err == nil {
			break
		}
		log.Warn("database not ready, retrying", "attempt", i+1, "err", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect database after retries: %w", err)
	}
	if err := db.Exec("SELECT 1").Error; err != nil {
		return nil, fmt.Errorf("db ping failed: %w", err)
	}
	log.Info("database opened", "driver", "postgres", "dsn", MaskDSN(dsn))
	return db, nil
}
