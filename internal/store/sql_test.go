package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driveguard/internal/config"
)

func openSQLite(t *testing.T) *SQL {
	t.Helper()
	s, err := OpenSQL(context.Background(), config.StorageSQLite, filepath.Join(t.TempDir(), "driveguard.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	applied, err := s.Migrate(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"001_init", "002_original_filename"}, applied)
	return s
}

func TestSQLiteStore(t *testing.T) {
	exerciseStore(t, openSQLite(t))
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openSQLite(t)
	applied, err := s.Migrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestRebind(t *testing.T) {
	pg := &SQL{dialect: config.StoragePostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	lite := &SQL{dialect: config.StorageSQLite}
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}

func TestOpenSQLRejectsUnknownDialect(t *testing.T) {
	_, err := OpenSQL(context.Background(), "mongo", "x", nil)
	assert.Error(t, err)
}
