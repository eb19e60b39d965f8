package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, 6, cfg.Links.TokenLength, "six random bytes make an eight character token")
	assert.Equal(t, 1000, cfg.Transport.MemoryHistory)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
links:
  link_format: "https://t.me/other_bot?start=%s"
  admins: [1, 2]
persistence:
  backend: redis
  codec: cbor
  compression: zstd
gc:
  interval: 30m
`), 0o600))

	t.Setenv("ADMINS", "5, 6")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PERSISTENCE_INTERVAL", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://t.me/other_bot?start=%s", cfg.Links.LinkFormat)
	assert.Equal(t, []int64{5, 6}, cfg.Links.Admins)
	assert.Equal(t, "redis", cfg.Persistence.Backend)
	assert.Equal(t, "cbor", cfg.Persistence.Codec)
	assert.Equal(t, time.Minute, cfg.Persistence.Interval)
	assert.Equal(t, 30*time.Minute, cfg.GC.Interval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Persistence, cfg.Persistence)
}

func TestBadAdminsEnv(t *testing.T) {
	t.Setenv("ADMINS", "1,two")
	_, err := Load("")
	assert.ErrorContains(t, err, "ADMINS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"token length", func(c *Config) { c.Links.TokenLength = 5 }},
		{"token length too long", func(c *Config) { c.Links.TokenLength = 65 }},
		{"memory history", func(c *Config) { c.Transport.MemoryHistory = -1 }},
		{"link format without verb", func(c *Config) { c.Links.LinkFormat = "https://t.me/bot" }},
		{"link format with two verbs", func(c *Config) { c.Links.LinkFormat = "%s/%s" }},
		{"backend", func(c *Config) { c.Persistence.Backend = "sqlite" }},
		{"file path", func(c *Config) { c.Persistence.Path = "" }},
		{"s3 endpoint", func(c *Config) { c.Persistence.Backend = "s3" }},
		{"postgres dsn", func(c *Config) { c.Persistence.Backend = "postgres" }},
		{"codec", func(c *Config) { c.Persistence.Codec = "gob" }},
		{"compression", func(c *Config) { c.Persistence.Compression = "lz4" }},
		{"scheduler", func(c *Config) { c.Delivery.Scheduler = "cron" }},
		{"asynq concurrency", func(c *Config) { c.Delivery.Scheduler = "asynq"; c.Delivery.Concurrency = 0 }},
		{"gc interval", func(c *Config) { c.GC.Interval = 0 }},
		{"rate limit", func(c *Config) { c.RateLimit.HooksPerMin = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
