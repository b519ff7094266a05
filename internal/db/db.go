package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"messenger/internal/config"
	"messenger/internal/db/migrations"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Connect opens the database and applies pending migrations.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, *MigrateResult, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	result, err := Migrate(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, result, nil
}

// Open connects to the configured driver without migrating.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := cfg.DSN
	switch cfg.Driver {
	case DriverPostgres:
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sqlx.Connect(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		// sqlite allows a single writer; one connection keeps transactions serial.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate runs all pending migrations for the database's driver.
func Migrate(db *sqlx.DB) (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, db.DriverName())
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	var driver database.Driver
	switch db.DriverName() {
	case DriverPostgres:
		driver, err = postgres.WithInstance(db.DB, &postgres.Config{})
	case DriverSQLite:
		driver, err = sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	default:
		err = fmt.Errorf("unsupported database driver %q", db.DriverName())
	}
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, db.DriverName(), driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	changed := true
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("migration up: %w", err)
		}
		changed = false
	}

	version, dirty, err := currentVersion(m)
	if err != nil {
		return nil, err
	}
	return &MigrateResult{Version: version, Dirty: dirty, Changed: changed}, nil
}

type versioner interface {
	Version() (uint, bool, error)
}

// currentVersion reads the schema version. A database without migrations
// reports version 0.
func currentVersion(m versioner) (uint, bool, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migration version: %w", err)
	}
	return version, dirty, nil
}
