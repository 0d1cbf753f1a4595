//go:build postgres_integration

package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"driveguard/internal/config"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	s, err := OpenSQL(t.Context(), config.StoragePostgres, dsn, nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(t.Context()))
	_, err = s.Migrate(t.Context())
	require.NoError(t, err)
	exerciseStore(t, s)
}
