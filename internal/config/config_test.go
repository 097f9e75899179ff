package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRelay_Defaults(t *testing.T) {
	cfg, err := LoadRelay("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, int64(50_000_000), cfg.Server.MaxPayload)
	assert.Equal(t, AuthModeNone, cfg.Auth.Mode)
	assert.Equal(t, BackendMemory, cfg.Cluster.Presence)
	assert.Equal(t, 30*time.Second, cfg.Signaling.OfferTimeout)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoadRelay_YAMLAndEnv(t *testing.T) {
	path := writeFile(t, "relay.yaml", `
server:
  addr: ":4000"
  node_id: "relay-a"
  max_payload: 1048576
cluster:
  presence: redis
  sessions: redis
nats:
  url: "nats://localhost:4222"
signaling:
  offer_timeout: 45s
logging:
  level: debug
`)
	t.Setenv("RELAY_NODE_ID", "relay-b")
	t.Setenv("REDIS_ADDR", "redis:6380")

	cfg, err := LoadRelay(path)
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.Server.Addr)
	assert.Equal(t, "relay-b", cfg.Server.NodeID, "env overrides file")
	assert.Equal(t, int64(1048576), cfg.Server.MaxPayload)
	assert.Equal(t, 45*time.Second, cfg.Signaling.OfferTimeout)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// 未出现在文件中的字段保留默认值
	assert.Equal(t, 25*time.Second, cfg.Server.PingInterval)
	assert.True(t, cfg.NeedsRedis())
}

func TestLoadRelay_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"token mode without secret", "auth:\n  mode: token\n"},
		{"unknown auth mode", "auth:\n  mode: ldap\n"},
		{"unknown backend", "cluster:\n  presence: etcd\n"},
		{"redis presence without nats", "cluster:\n  presence: redis\n"},
		{"offer timeout too long", "signaling:\n  offer_timeout: 2m\n"},
		{"push without keys", "push:\n  enabled: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRelay(writeFile(t, "relay.yaml", tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadRelay_MissingFile(t *testing.T) {
	_, err := LoadRelay(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadWeb(t *testing.T) {
	path := writeFile(t, "web.yaml", `
app:
  port: 9000
  mode: debug
jwt:
  secret_key: "s3cret"
  access_expire: 2h
rate_limit:
  requests_per_minute: 30
`)
	t.Setenv("POSTGRES_HOST", "db")

	cfg, err := LoadWeb(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.App.Port)
	assert.Equal(t, "s3cret", cfg.JWT.SecretKey)
	assert.Equal(t, 2*time.Hour, cfg.JWT.AccessExpire)
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "db", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("X_INT", "42")
	t.Setenv("X_BAD_INT", "forty-two")
	t.Setenv("X_BOOL", "true")
	t.Setenv("X_DUR", "1500ms")
	t.Setenv("X_LIST", " a, b ,,c ")

	assert.Equal(t, 42, GetEnvInt("X_INT", 1))
	assert.Equal(t, 1, GetEnvInt("X_BAD_INT", 1))
	assert.True(t, GetEnvBool("X_BOOL", false))
	assert.Equal(t, 1500*time.Millisecond, GetEnvDuration("X_DUR", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, GetEnvList("X_LIST", nil))
	assert.Equal(t, "def", GetEnv("X_MISSING", "def"))
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "DOTENV_PROBE=from-file\n")
	os.Unsetenv("DOTENV_PROBE")
	t.Cleanup(func() { os.Unsetenv("DOTENV_PROBE") })

	LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, "from-file", os.Getenv("DOTENV_PROBE"))
}
