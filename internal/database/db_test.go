package database

import (
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guiofsaints/procureflow-sub000/internal/config"
)

func TestOpenSQLite_Migrate(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db, config.DatabaseConfig{Driver: DriverSQLite}))
	require.NoError(t, Migrate(db, config.DatabaseConfig{Driver: DriverSQLite}), "schema is idempotent")

	var tables []string
	require.NoError(t, db.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`))
	assert.Equal(t, []string{"conversation_messages", "conversations", "usage_records"}, tables)
}

func TestNewConnection_MemoryDriver(t *testing.T) {
	_, err := NewConnection(config.DatabaseConfig{Driver: "memory"})
	assert.Error(t, err)
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 0, 123456000, time.FixedZone("X", 3600))
	parsed, err := ParseTime(FormatTime(ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))
	assert.Equal(t, time.UTC, parsed.Location())

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}

func TestGetDSN(t *testing.T) {
	dsn := GetDSN(config.DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5432, Database: "procureflow", SSLMode: "disable"})
	assert.Equal(t, "postgres://u:p@db:5432/procureflow?sslmode=disable", dsn)
}
