package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  http_port: 9090
cassandra:
  hosts:
    - cass-1
  keyspace: chat_prod
  replication:
    class: NetworkTopologyStrategy
    data_centers:
      dc1: 3
      dc2: 2
redis:
  host: redis.local
pagination:
  default_page_size: 30
reconcile:
  spec: "@every 5m"
  grace_period: 2m
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"cass-1"}, cfg.Cassandra.Hosts)
	assert.Equal(t, "chat_prod", cfg.Cassandra.Keyspace)
	assert.Equal(t, "NetworkTopologyStrategy", cfg.Cassandra.Replication.Class)
	assert.Equal(t, map[string]int{"dc1": 3, "dc2": 2}, cfg.Cassandra.Replication.DataCenters)
	assert.Equal(t, "redis.local:6379", cfg.Redis.Addr())
	assert.Equal(t, 30, cfg.Pagination.DefaultPageSize)
	assert.Equal(t, "@every 5m", cfg.Reconcile.Spec)
	assert.Equal(t, 2*time.Minute, cfg.Reconcile.GracePeriod)
	assert.Same(t, cfg, GlobalConfig)
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"127.0.0.1"}, cfg.Cassandra.Hosts)
	assert.Equal(t, 9042, cfg.Cassandra.Port)
	assert.Equal(t, "widechat", cfg.Cassandra.Keyspace)
	assert.Equal(t, "SimpleStrategy", cfg.Cassandra.Replication.Class)
	assert.Equal(t, 1, cfg.Cassandra.Replication.Factor)
	assert.Equal(t, 10, cfg.Cassandra.ConnectRetries)
	assert.Equal(t, 5*time.Second, cfg.Cassandra.ConnectBackoff)
	assert.True(t, cfg.Cassandra.AutoMigrate)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 20, cfg.Pagination.DefaultPageSize)
	assert.Equal(t, 100, cfg.Pagination.MaxPageSize)
	assert.Equal(t, "@every 1m", cfg.Reconcile.Spec)
	assert.Equal(t, 10, cfg.Reconcile.MaxAttempts)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CASSANDRA_HOSTS", "10.0.0.1, 10.0.0.2")
	t.Setenv("CASSANDRA_KEYSPACE", "from_env")
	t.Setenv("CASSANDRA_REPLICATION_CLASS", "SimpleStrategy")
	t.Setenv("CASSANDRA_REPLICATION_FACTOR", "3")
	t.Setenv("REDIS_HOST", "redis.env")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Cassandra.Hosts)
	assert.Equal(t, "from_env", cfg.Cassandra.Keyspace)
	assert.Equal(t, "SimpleStrategy", cfg.Cassandra.Replication.Class)
	assert.Equal(t, 3, cfg.Cassandra.Replication.Factor)
	assert.Equal(t, "redis.env", cfg.Redis.Host)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CASSANDRA_KEYSPACE=from_dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CASSANDRA_KEYSPACE") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from_dotenv", cfg.Cassandra.Keyspace)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
