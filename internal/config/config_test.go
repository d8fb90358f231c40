package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })
	_, err = tmpfile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		path := writeTempConfig(t, `
database:
  type: sqlite
  dsn: "file::memory:"
search:
  engine_id: cx-123
  exhausted_cooldown: 30m
  upstream_timeout: 3s
  abort_on_bad_request: false
admin:
  password: secret
port: 8081
debug: true
`)
		config, warnings, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Len(t, warnings, 1, "only the min_usable_keys default should warn")
		assert.Equal(t, 8081, config.Port)
		assert.True(t, config.Debug)
		assert.Equal(t, "cx-123", config.Search.EngineID)
		assert.Equal(t, 30*time.Minute, config.Search.Cooldown())
		assert.Equal(t, 3*time.Second, config.Search.Timeout())
		assert.False(t, config.Search.AbortOnBadRequest)
	})

	t.Run("defaults", func(t *testing.T) {
		path := writeTempConfig(t, `
database:
  type: sqlite
  dsn: "file::memory:"
`)
		config, warnings, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, DefaultPort, config.Port)
		assert.Equal(t, DefaultPlaceholderURL, config.Search.PlaceholderURL)
		assert.Equal(t, DefaultMinUsableKeys, config.Search.MinUsableKeys)
		assert.Equal(t, DefaultCookieMaxAge, config.Search.CookieMaxAge)
		assert.Equal(t, DefaultExhaustedCooldown, config.Search.Cooldown())
		assert.Equal(t, DefaultRecentWindow, config.Search.Window())
		assert.Equal(t, DefaultRedisTTL, config.Redis.CacheTTL())
		assert.Equal(t, DefaultRetention, config.Scheduler.Retention())
		assert.True(t, config.Search.AbortOnBadRequest)
		assert.Len(t, warnings, 3)
	})

	t.Run("example config", func(t *testing.T) {
		config, _, err := LoadConfig("../../config.example.yaml")
		require.NoError(t, err)
		assert.Equal(t, "mysql", config.Database.Type)
		assert.True(t, config.Search.AbortOnBadRequest)
		assert.Equal(t, 20*time.Minute, config.Search.Cooldown())
		assert.Equal(t, 100*time.Hour, config.Redis.CacheTTL())
	})

	t.Run("abort on bad request from file", func(t *testing.T) {
		for _, tt := range []struct {
			value string
			want  bool
		}{{"true", true}, {"false", false}} {
			path := writeTempConfig(t, `
database:
  type: sqlite
  dsn: "file::memory:"
search:
  abort_on_bad_request: `+tt.value+`
`)
			config, _, err := LoadConfig(path)
			require.NoError(t, err, tt.value)
			assert.Equal(t, tt.want, config.Search.AbortOnBadRequest, tt.value)
		}
	})

	t.Run("missing database settings", func(t *testing.T) {
		path := writeTempConfig(t, `port: 8080`)
		_, _, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("non-existent file falls back to environment", func(t *testing.T) {
		t.Setenv("GOPOSTER_DATABASE_TYPE", "sqlite")
		t.Setenv("GOPOSTER_DATABASE_DSN", "file::memory:")
		config, _, err := LoadConfig("non-existent-file.yaml")
		require.NoError(t, err)
		assert.Equal(t, "sqlite", config.Database.Type)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeTempConfig(t, "database: [sqlite\nport: 8080\n  debug: true")
		_, _, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("invalid duration", func(t *testing.T) {
		path := writeTempConfig(t, `
database:
  type: sqlite
  dsn: "file::memory:"
search:
  recent_window: yesterday
`)
		_, _, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "search.recent_window")
	})
}
