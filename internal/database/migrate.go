package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/guiofsaints/procureflow-sub000/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

//go:embed schema_sqlite.sql
var sqliteSchema string

// Migrate brings the schema of db up to date. Postgres uses the versioned
// migrations; SQLite applies the idempotent embedded schema.
func Migrate(db *DB, cfg config.DatabaseConfig) error {
	switch db.Driver {
	case DriverPostgres:
		return RunMigrations(cfg)
	case DriverSQLite:
		if _, err := db.Exec(sqliteSchema); err != nil {
			return fmt.Errorf("failed to apply sqlite schema: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("no migrations for driver %q", db.Driver)
	}
}

// RunMigrations runs all pending database migrations
func RunMigrations(cfg config.DatabaseConfig) error {
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RollbackMigration rolls back the last migration
func RollbackMigration(cfg config.DatabaseConfig) error {
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	return nil
}

func newMigrate(cfg config.DatabaseConfig) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, GetDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}
