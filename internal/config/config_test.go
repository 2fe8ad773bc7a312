package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 5, cfg.Queue.Concurrency)
	require.Equal(t, 256, cfg.Queue.Depth)
	require.Equal(t, 3, cfg.Queue.DefaultPriority)
	require.Equal(t, 5, cfg.Proxy.FailThreshold)
	require.Equal(t, "noop", cfg.Publisher.Provider)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
server:
  port: 9191
queue:
  concurrency: 2
  rate_max: 4
  rate_window_ms: 500
auth:
  enabled: true
  api_key: sekret
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)
	require.Equal(t, 2, cfg.Queue.Concurrency)
	require.Equal(t, "sekret", cfg.Auth.APIKey)
	require.Equal(t, 4, cfg.Queue.RateMax)
	require.Equal(t, "500ms", cfg.Queue.RateWindow().String())
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero concurrency", func(c *Config) { c.Queue.Concurrency = 0 }},
		{"zero rate", func(c *Config) { c.Queue.RateMax = 0 }},
		{"zero fail threshold", func(c *Config) { c.Proxy.FailThreshold = 0 }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }},
		{"pubsub without project", func(c *Config) { c.Publisher.Provider = "pubsub" }},
	}

	base, err := Load("")
	require.NoError(t, err)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
