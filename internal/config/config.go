// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Retry   RetryConfig   `mapstructure:"retry" yaml:"retry"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Harness HarnessConfig `mapstructure:"harness" yaml:"harness"`
}

// LoggerConfig configures the zap logger bootstrap.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// RetryConfig holds the polling defaults for actions and assertions.
type RetryConfig struct {
	// DefaultTimeout bounds a single retryable operation end to end.
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	// PollInterval is the initial wait between polls.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// MaxPollInterval caps the exponential backoff between polls.
	MaxPollInterval time.Duration `mapstructure:"max_poll_interval" yaml:"max_poll_interval"`
	// ProbeRateLimit bounds probes per second across all concurrent
	// polling loops sharing one engine. Zero disables the limiter.
	ProbeRateLimit float64 `mapstructure:"probe_rate_limit" yaml:"probe_rate_limit"`
}

// BrowserConfig configures the browser process launch.
type BrowserConfig struct {
	Headless bool     `mapstructure:"headless" yaml:"headless"`
	ExecPath string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args     []string `mapstructure:"args" yaml:"args"`
	// LaunchTimeout bounds the initial process start.
	LaunchTimeout time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
}

// HarnessConfig configures whole-test execution.
type HarnessConfig struct {
	MaxAttempts       int `mapstructure:"max_attempts" yaml:"max_attempts"`
	WorkerConcurrency int `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with static defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "stagehand")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Retry --
	v.SetDefault("retry.default_timeout", "30s")
	v.SetDefault("retry.poll_interval", "50ms")
	v.SetDefault("retry.max_poll_interval", "500ms")
	v.SetDefault("retry.probe_rate_limit", 0.0)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.launch_timeout", "60s")

	// -- Harness --
	v.SetDefault("harness.max_attempts", 1)
	v.SetDefault("harness.worker_concurrency", 4)
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Retry.DefaultTimeout <= 0 {
		return fmt.Errorf("retry.default_timeout must be a positive duration")
	}
	if c.Retry.PollInterval <= 0 {
		return fmt.Errorf("retry.poll_interval must be a positive duration")
	}
	if c.Retry.MaxPollInterval < c.Retry.PollInterval {
		return fmt.Errorf("retry.max_poll_interval must be >= retry.poll_interval")
	}
	if c.Retry.ProbeRateLimit < 0 {
		return fmt.Errorf("retry.probe_rate_limit must not be negative")
	}
	if c.Harness.MaxAttempts <= 0 {
		return fmt.Errorf("harness.max_attempts must be a positive integer")
	}
	if c.Harness.WorkerConcurrency <= 0 {
		return fmt.Errorf("harness.worker_concurrency must be a positive integer")
	}
	return nil
}
