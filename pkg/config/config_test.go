package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 20, cfg.Provider.PageSize)
	assert.Equal(t, int64(10), cfg.Provider.RankBase)
	assert.False(t, cfg.Provider.ShowHidden)
	assert.Equal(t, "memory", cfg.Metadata.Type)
	assert.Equal(t, "driftfs", cfg.Remote.UserAgent)
	assert.NotEmpty(t, cfg.Storage.Root)
	assert.Equal(t, ":9090", cfg.Metrics.Address)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
provider:
  page_size: 50
  rank_base: 100
  show_hidden: true
metadata:
  type: sqlite
  sqlite:
    path: /data/driftfs.db
accounts:
  - id: alice@cloud.example
    user_id: alice
    server_url: https://cloud.example
    active: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 50, cfg.Provider.PageSize)
	assert.Equal(t, int64(100), cfg.Provider.RankBase)
	assert.True(t, cfg.Provider.ShowHidden)
	assert.Equal(t, "sqlite", cfg.Metadata.Type)
	assert.Equal(t, "/data/driftfs.db", cfg.Metadata.SQLite["path"])
	require.Len(t, cfg.Accounts, 1)
	assert.True(t, cfg.Accounts[0].Active)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DRIFTFS_LOGGING_LEVEL", "warn")
	t.Setenv("DRIFTFS_PROVIDER_PAGE_SIZE", "7")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, 7, cfg.Provider.PageSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "LOUD" }},
		{"zero page size", func(c *Config) { c.Provider.PageSize = 0 }},
		{"negative rank base", func(c *Config) { c.Provider.RankBase = -1 }},
		{"unknown backend", func(c *Config) { c.Metadata.Type = "etcd" }},
		{"sqlite without path", func(c *Config) {
			c.Metadata.Type = "sqlite"
			c.Metadata.SQLite = map[string]any{"path": ""}
		}},
		{"badger without path", func(c *Config) {
			c.Metadata.Type = "badger"
			c.Metadata.Badger = map[string]any{"path": ""}
		}},
		{"account without server url", func(c *Config) {
			c.Accounts = []AccountConfig{{ID: "a", UserID: "a"}}
		}},
		{"account with invalid server url", func(c *Config) {
			c.Accounts = []AccountConfig{{ID: "a", UserID: "a", ServerURL: "not a url"}}
		}},
		{"duplicate account ids", func(c *Config) {
			c.Accounts = []AccountConfig{
				{ID: "a", UserID: "a", ServerURL: "https://x.example"},
				{ID: "a", UserID: "b", ServerURL: "https://y.example"},
			}
		}},
		{"two active accounts", func(c *Config) {
			c.Accounts = []AccountConfig{
				{ID: "a", UserID: "a", ServerURL: "https://x.example", Active: true},
				{ID: "b", UserID: "b", ServerURL: "https://y.example", Active: true},
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, Validate(GetDefaultConfig()))
}

func TestBadgerInMemoryNeedsNoPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metadata.Type = "badger"
	cfg.Metadata.Badger = map[string]any{"in_memory": true}
	assert.NoError(t, Validate(cfg))
}
