package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, ModeFeatures, cfg.Analysis.Mode)
	assert.Equal(t, int64(500<<20), cfg.MaxUploadBytes())
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "driveguard.yaml")
	doc := `
server:
  addr: ":9000"
  max_upload_mb: 10
analysis:
  workers: 4
  timeout: 5m
auth:
  mode: jwt
  jwt_secret: s3cret
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	t.Setenv("PORT", "7000")
	t.Setenv("RATE_RPS", "2.5")
	t.Setenv("ALLOW_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 127.0.0.1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, int64(10), cfg.Server.MaxUploadMB)
	assert.Equal(t, 4, cfg.Analysis.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Analysis.Timeout)
	assert.Equal(t, 2.5, cfg.Server.RateRPS)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowOrigins)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.Server.TrustedProxies)
	assert.Equal(t, path, cfg.Path())
}

func TestDatabaseURLSelectsPostgres(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/driveguard")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/driveguard", cfg.Storage.DSN)
}

func TestValidateRejectsJWTWithoutSecret(t *testing.T) {
	cfg := Default()
	cfg.Auth.Mode = AuthJWT
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = "mongo"
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresDSNForSQL(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = StorageSQLite
	assert.Error(t, cfg.Validate())
	cfg.Storage.DSN = "file:test.db"
	assert.NoError(t, cfg.Validate())
}

func TestValidateTrustedProxies(t *testing.T) {
	cfg := Default()
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "::1"}
	assert.NoError(t, cfg.Validate())
	cfg.Server.TrustedProxies = []string{"proxy.internal"}
	assert.Error(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "driveguard.yaml")
	cfg := Default()
	cfg.Analysis.DetectorModel = "yolov8m.pt"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "yolov8m.pt", loaded.Analysis.DetectorModel)
	assert.Equal(t, cfg.Analysis.Timeout, loaded.Analysis.Timeout)
}
