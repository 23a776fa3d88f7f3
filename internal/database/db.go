package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/guiofsaints/procureflow-sub000/internal/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// TimeLayout is how timestamps are written to SQL columns. It is fixed
// width so text columns sort chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// DB wraps the database connection
type DB struct {
	*sqlx.DB
	Driver string
}

// NewConnection opens the configured database. The memory driver has no
// connection and is rejected here.
func NewConnection(cfg config.DatabaseConfig) (*DB, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return connectPostgres(cfg)
	case DriverSQLite:
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("database driver %q has no connection", cfg.Driver)
	}
}

func connectPostgres(cfg config.DatabaseConfig) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sqlx.Connect(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &DB{DB: db, Driver: DriverPostgres}, nil
}

// OpenSQLite opens (or creates) a SQLite database file. ":memory:" gives a
// private in-memory database.
func OpenSQLite(path string) (*DB, error) {
	db, err := sqlx.Connect(DriverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}
	return &DB{DB: db, Driver: DriverSQLite}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// GetDSN returns the connection URL used by migrations
func GetDSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
}

// FormatTime renders a timestamp for storage
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a stored timestamp. Drivers that return native
// timestamps are scanned to RFC 3339 text by database/sql.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
