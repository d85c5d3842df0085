// ABOUTME: Tests for configuration layering and logger construction
// ABOUTME: Defaults, YAML file, environment and flag overrides, validation

package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("EMBUDO_DATABASE_URL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, "deals-sync", cfg.Channel)
	assert.Equal(t, ReplicaBadger, cfg.ReplicaBackend)
	assert.True(t, cfg.Charm.AutoSync)
}

func TestLoadFileThenEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: sqlite:///tmp/embudo.db
redis_url: redis://localhost:6379/0
replica_backend: charm
origin: ventas-lima
charm:
  host: charm.example.test
  auto_sync: false
`), 0600))

	t.Setenv("EMBUDO_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("EMBUDO_DATABASE_URL", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite:///tmp/embudo.db", cfg.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	assert.Equal(t, ReplicaCharm, cfg.ReplicaBackend)
	assert.Equal(t, "charm.example.test", cfg.Charm.Host)
	assert.False(t, cfg.Charm.AutoSync)

	cc := cfg.CharmConfig()
	assert.Equal(t, "ventas-lima", cc.Origin)
	// The loaded config itself is not modified.
	assert.Empty(t, cfg.Charm.Origin)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("EMBUDO_SALES_OWNER=lucia\n"), 0600))
	t.Setenv("EMBUDO_SALES_OWNER", "")
	require.NoError(t, os.Unsetenv("EMBUDO_SALES_OWNER"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "lucia", cfg.SalesOwner)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("replica_backend: s3\n"), 0600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "replica_backend")

	require.NoError(t, os.WriteFile(path, []byte("replica_backend: [\n"), 0600))
	_, err = Load(path)
	assert.ErrorContains(t, err, "parse config file")
}

func TestFlagsOverride(t *testing.T) {
	cfg := Default()
	cfg.DatabaseURL = "from-file.db"
	cfg.Origin = "file-origin"

	fs := flag.NewFlagSet("embudo", flag.ContinueOnError)
	o := cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--database-url", "postgres://db/embudo", "--metrics-addr", ":9090"}))
	cfg.Apply(o)

	assert.Equal(t, "postgres://db/embudo", cfg.DatabaseURL)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "file-origin", cfg.Origin)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.RedisURL = "redis://localhost:6379/0"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.RedisURL, loaded.RedisURL)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("info", "json")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger("chatty", "json")
	assert.Error(t, err)

	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}
