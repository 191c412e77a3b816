// internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "stagehand", cfg.Logger.ServiceName)

	assert.Equal(t, 30*time.Second, cfg.Retry.DefaultTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.MaxPollInterval)

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 1, cfg.Harness.MaxAttempts)
	assert.Equal(t, 4, cfg.Harness.WorkerConcurrency)

	require.NoError(t, cfg.Validate())
}

func TestNewConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("retry.default_timeout", "5s")
	v.Set("harness.max_attempts", 3)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Retry.DefaultTimeout)
	assert.Equal(t, 3, cfg.Harness.MaxAttempts)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero timeout", func(c *Config) { c.Retry.DefaultTimeout = 0 }, "default_timeout"},
		{"zero poll interval", func(c *Config) { c.Retry.PollInterval = 0 }, "poll_interval"},
		{"cap below interval", func(c *Config) { c.Retry.MaxPollInterval = c.Retry.PollInterval / 2 }, "max_poll_interval"},
		{"negative rate limit", func(c *Config) { c.Retry.ProbeRateLimit = -1 }, "probe_rate_limit"},
		{"zero attempts", func(c *Config) { c.Harness.MaxAttempts = 0 }, "max_attempts"},
		{"zero concurrency", func(c *Config) { c.Harness.WorkerConcurrency = 0 }, "worker_concurrency"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
