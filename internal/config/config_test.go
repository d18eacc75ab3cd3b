package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })
	_, err = tmpfile.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		path := writeConfig(t, `
port: 8080
debug: true
database:
  type: sqlite
  dsn: "file::memory:"
retry:
  max_attempts: 5
  initial_delay: 500ms
  max_delay: 10s
  multiplier: 3
  jitter: false
  transient_phrases: ["model is overloaded"]
catalog:
  ttl: 30m
match:
  scorer: token_sort_ratio
  top_k: 5
  cutoff: 70
`)
		config, warning, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Empty(t, warning)
		assert.Equal(t, 8080, config.Port)
		assert.True(t, config.Debug)
		assert.Equal(t, 5, config.Retry.MaxAttempts)
		assert.Equal(t, 500*time.Millisecond, config.RetryInitialDelay())
		assert.Equal(t, 10*time.Second, config.RetryMaxDelay())
		assert.Equal(t, 3.0, config.Retry.Multiplier)
		assert.False(t, config.RetryJitter())
		assert.Equal(t, []string{"model is overloaded"}, config.Retry.TransientPhrases)
		assert.Equal(t, 30*time.Minute, config.CatalogTTL())
		assert.Equal(t, "token_sort_ratio", config.Match.Scorer)
		assert.Equal(t, 5, config.Match.TopK)
		assert.Equal(t, 70.0, config.Match.Cutoff)
	})

	t.Run("defaults applied with warning", func(t *testing.T) {
		path := writeConfig(t, `
database:
  type: sqlite
  dsn: "file::memory:"
`)
		config, warning, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Contains(t, warning, "retry.max_attempts")
		assert.Contains(t, warning, "catalog.ttl")
		assert.Equal(t, 8000, config.Port)
		assert.Equal(t, 4, config.Retry.MaxAttempts)
		assert.Equal(t, time.Second, config.RetryInitialDelay())
		assert.Equal(t, 30*time.Second, config.RetryMaxDelay())
		assert.True(t, config.RetryJitter())
		assert.Equal(t, time.Hour, config.CatalogTTL())
		assert.Equal(t, "token_set_ratio", config.Match.Scorer)
		assert.Equal(t, 3, config.Match.TopK)
		assert.Equal(t, 60.0, config.Match.Cutoff)
		assert.Equal(t, "random", config.Ledger.Selection)
		assert.Equal(t, 0.1, config.Ledger.WarningRatio)
	})

	t.Run("non-existent file without env", func(t *testing.T) {
		_, _, err := LoadConfig("non-existent-file.yaml")
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeConfig(t, "database: [sqlite\nport: 8080\n  debug: true")
		_, _, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("rejects non-positive retry delay", func(t *testing.T) {
		path := writeConfig(t, `
database: {type: sqlite, dsn: "x"}
retry:
  initial_delay: 0s
`)
		_, _, err := LoadConfig(path)
		assert.ErrorContains(t, err, "retry.initial_delay")
	})

	t.Run("rejects max delay below initial delay", func(t *testing.T) {
		path := writeConfig(t, `
database: {type: sqlite, dsn: "x"}
retry:
  initial_delay: 5s
  max_delay: 1s
`)
		_, _, err := LoadConfig(path)
		assert.ErrorContains(t, err, "retry.max_delay")
	})

	t.Run("rejects multiplier below one", func(t *testing.T) {
		path := writeConfig(t, `
database: {type: sqlite, dsn: "x"}
retry:
  multiplier: 0.5
`)
		_, _, err := LoadConfig(path)
		assert.ErrorContains(t, err, "retry.multiplier")
	})

	t.Run("rejects cutoff out of range", func(t *testing.T) {
		path := writeConfig(t, `
database: {type: sqlite, dsn: "x"}
match:
  cutoff: 120
`)
		_, _, err := LoadConfig(path)
		assert.ErrorContains(t, err, "match.cutoff")
	})
}
