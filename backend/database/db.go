package database

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PhilHem/go-file-vault/backend/config"
	"github.com/PhilHem/go-file-vault/backend/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured database and brings the schema up to date.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(cfg.DSN))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger(slog.Default()),
	})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	slog.Info("database ready", "source", "database", "driver", cfg.Driver)
	return db, nil
}

// slowQuery is the duration above which a statement is logged as a warning.
const slowQuery = 200 * time.Millisecond

// gormLogger sends gorm's query and error logging through l. Query
// parameters are left out of the logged SQL.
func gormLogger(l *slog.Logger) logger.Interface {
	return logger.NewSlogLogger(l.With("source", "database"), logger.Config{
		LogLevel:                  logger.Warn,
		SlowThreshold:             slowQuery,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
	})
}

// Migrate creates missing tables and columns. Existing rows are kept; a
// files table from before public ids were recorded gets public_id = ''.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.User{}, &models.File{})
}

// sqliteDSN turns on foreign key enforcement unless the DSN already sets it.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}
