// ABOUTME: Tests for YAML config loading, env expansion and validation
// ABOUTME: Mirrors the shapes a deployment actually writes

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "confab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9000"
storage:
  backend: sqlite
  path: /var/lib/confab/confab.db
sync:
  save_debounce: 500ms
  history_limit: 25
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.SaveDebounce)
	assert.Equal(t, 25, cfg.Sync.HistoryLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_DefaultsFillGaps(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, 2*time.Second, cfg.Sync.SaveDebounce)
	assert.Equal(t, 100, cfg.Sync.HistoryLimit)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("CONFAB_TEST_DATA", "/srv/confab-data")

	path := writeConfig(t, `
storage:
  path: ${CONFAB_TEST_DATA}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/confab-data", cfg.Storage.Path)
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
sync:
  save_debounce: soonish
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "save_debounce")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default is valid", func(c *Config) {}, ""},
		{"missing addr", func(c *Config) { c.Server.HTTPAddr = "" }, "http_addr"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "carrier-pigeon" }, "storage.backend"},
		{"missing path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"negative history", func(c *Config) { c.Sync.HistoryLimit = -1 }, "history_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
