// Package config loads the core's tunables from the environment, adapted
// from the teacher's root config.go: caarlos0/env struct tags plus an
// optional .env file via joho/godotenv, validated once at startup.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every tunable named in §6, plus the ambient logging/runtime
// knobs the distilled spec omits.
type Config struct {
	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Bus
	BusMailboxSize int `env:"BUS_MAILBOX_SIZE" envDefault:"256"`

	// Producer tunables (§6)
	TickerIntervalMs        int `env:"TICKER_INTERVAL_MS" envDefault:"15000"`
	SubTrainDurationMs      int `env:"SUB_TRAIN_DURATION_MS" envDefault:"300000"`
	CleanupIntervalMs       int `env:"CLEANUP_INTERVAL_MS" envDefault:"600000"`
	MaxTimers               int `env:"MAX_TIMERS" envDefault:"100"`
	MaxInterruptStackSize   int `env:"MAX_INTERRUPT_STACK_SIZE" envDefault:"50"`
	InterruptStackKeepCount int `env:"INTERRUPT_STACK_KEEP_COUNT" envDefault:"25"`

	// Aggregator tunables (§6)
	MaxFollowers    int `env:"MAX_FOLLOWERS" envDefault:"100"`
	MaxEmoteEntries int `env:"MAX_EMOTE_ENTRIES" envDefault:"1000"`

	// Correlation tunables (§6)
	CorrelationDelayMinMs int `env:"CORRELATION_DELAY_MIN_MS" envDefault:"3000"`
	CorrelationDelayMaxMs int `env:"CORRELATION_DELAY_MAX_MS" envDefault:"7000"`
	TranscriptionWindowMs int `env:"TRANSCRIPTION_WINDOW_MS" envDefault:"30000"`
	ChatWindowMs          int `env:"CHAT_WINDOW_MS" envDefault:"30000"`
	FingerprintRetentionMs int `env:"FINGERPRINT_RETENTION_MS" envDefault:"300000"`

	// OAuth tunables (§6)
	RefreshBufferMs int `env:"REFRESH_BUFFER_MS" envDefault:"300000"`

	// Circuit breaker tunables (§6)
	BreakerFailureThreshold int `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerCooldownMs       int `env:"BREAKER_COOLDOWN_MS" envDefault:"30000"`

	// Persistence roots
	OAuthTokenDir     string `env:"OAUTH_TOKEN_DIR" envDefault:"./data/tokens"`
	ProducerStateDir  string `env:"PRODUCER_STATE_DIR" envDefault:"./data/producer"`

	// Monitoring
	MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":9090"`
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Resource limits (from container, consumed by internal/health)
	CPULimit    float64 `env:"CPU_LIMIT" envDefault:"1.0"`
	MemoryLimit int64   `env:"MEMORY_LIMIT" envDefault:"536870912"` // 512MB
}

// Load reads configuration from a .env file (if present) and the
// environment, in that priority order with environment variables winning,
// then validates it.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks range and enum constraints that struct tags can't express.
func (c *Config) Validate() error {
	if c.MaxTimers < 1 {
		return fmt.Errorf("MAX_TIMERS must be > 0, got %d", c.MaxTimers)
	}
	if c.InterruptStackKeepCount > c.MaxInterruptStackSize {
		return fmt.Errorf("INTERRUPT_STACK_KEEP_COUNT (%d) must be <= MAX_INTERRUPT_STACK_SIZE (%d)",
			c.InterruptStackKeepCount, c.MaxInterruptStackSize)
	}
	if c.CorrelationDelayMinMs >= c.CorrelationDelayMaxMs {
		return fmt.Errorf("CORRELATION_DELAY_MIN_MS must be < CORRELATION_DELAY_MAX_MS")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console (got: %s)", c.LogFormat)
	}
	return nil
}

// LogConfig emits the loaded configuration as a single structured line.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Int("ticker_interval_ms", c.TickerIntervalMs).
		Int("sub_train_duration_ms", c.SubTrainDurationMs).
		Int("cleanup_interval_ms", c.CleanupIntervalMs).
		Int("max_timers", c.MaxTimers).
		Int("max_interrupt_stack_size", c.MaxInterruptStackSize).
		Int("interrupt_stack_keep_count", c.InterruptStackKeepCount).
		Int("max_followers", c.MaxFollowers).
		Int("max_emote_entries", c.MaxEmoteEntries).
		Int("breaker_failure_threshold", c.BreakerFailureThreshold).
		Int("breaker_cooldown_ms", c.BreakerCooldownMs).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
