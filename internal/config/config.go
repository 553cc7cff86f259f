// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kalyro/vigil/internal/models"
)

// Config represents the complete application configuration.
type Config struct {
	Instruments []models.Instrument `mapstructure:"instruments"`
	Monitor     MonitorConfig       `mapstructure:"monitor"`
	Sources     SourcesConfig       `mapstructure:"sources"`
	Brain       BrainConfig         `mapstructure:"brain"`
	Telegram    TelegramConfig      `mapstructure:"telegram"`
	Storage     StorageConfig       `mapstructure:"storage"`
	Logging     LoggingConfig       `mapstructure:"logging"`
}

// MonitorConfig holds scheduling and alert-policy configuration.
type MonitorConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	SeedCooldown    bool          `mapstructure:"seed_cooldown_on_start"`
	DailyReportTime string        `mapstructure:"daily_report_time"`
}

// SourcesConfig holds upstream fetch configuration shared by all adapters.
type SourcesConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelayBase  time.Duration `mapstructure:"retry_delay_base"`
	BlockingWorkers int           `mapstructure:"blocking_workers"`
}

// BrainConfig holds the AI analysis configuration. An empty API key disables
// analysis; monitoring continues with fallback text.
type BrainConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	HistoryHrs  int           `mapstructure:"history_hours"`
	SimilarDays int           `mapstructure:"similar_days"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DBPath        string `mapstructure:"db_path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("VIGIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("monitor.poll_interval", "60s")
	v.SetDefault("monitor.cooldown", "1800s")
	v.SetDefault("monitor.seed_cooldown_on_start", true)
	v.SetDefault("monitor.daily_report_time", "22:30")

	v.SetDefault("sources.timeout", "15s")
	v.SetDefault("sources.max_retries", 3)
	v.SetDefault("sources.retry_delay_base", "1s")
	v.SetDefault("sources.blocking_workers", 4)

	// Secrets have no meaningful default, but viper only surfaces env values
	// through Unmarshal for keys it already knows about, so they must be
	// registered here for VIGIL_BRAIN_API_KEY and friends to apply.
	v.SetDefault("brain.api_key", "")
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")

	v.SetDefault("brain.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("brain.model", "gemini-1.5-pro")
	v.SetDefault("brain.timeout", "60s")
	v.SetDefault("brain.history_hours", 24)
	v.SetDefault("brain.similar_days", 30)

	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("storage.db_path", "./data/vigil.db")
	v.SetDefault("storage.retention_days", 90)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("instruments must contain at least one entry")
	}
	seen := make(map[string]bool, len(c.Instruments))
	for i := range c.Instruments {
		inst := &c.Instruments[i]
		if err := inst.Validate(); err != nil {
			return fmt.Errorf("instruments[%d]: %w", i, err)
		}
		if seen[inst.Symbol] {
			return fmt.Errorf("instruments[%d]: duplicate symbol %s", i, inst.Symbol)
		}
		seen[inst.Symbol] = true
	}

	if c.Monitor.PollInterval < 10*time.Second {
		return fmt.Errorf("monitor.poll_interval must be at least 10 seconds")
	}
	if c.Monitor.Cooldown <= 0 {
		return fmt.Errorf("monitor.cooldown must be positive")
	}
	if _, err := time.Parse("15:04", c.Monitor.DailyReportTime); err != nil {
		return fmt.Errorf("monitor.daily_report_time must be in HH:MM format: %w", err)
	}

	if c.Sources.Timeout <= 0 {
		return fmt.Errorf("sources.timeout must be positive")
	}
	if c.Sources.MaxRetries < 1 {
		return fmt.Errorf("sources.max_retries must be at least 1")
	}
	if c.Sources.BlockingWorkers < 1 {
		return fmt.Errorf("sources.blocking_workers must be at least 1")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.RetentionDays < 1 {
		return fmt.Errorf("storage.retention_days must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// EnabledInstruments returns the instruments with the enabled flag set.
func (c *Config) EnabledInstruments() []models.Instrument {
	var out []models.Instrument
	for _, inst := range c.Instruments {
		if inst.Enabled {
			out = append(out, inst)
		}
	}
	return out
}

// DailyReportAt returns the configured report time-of-day as hour and minute.
// Call Validate first; a malformed value yields 00:00.
func (c *Config) DailyReportAt() (hour, minute int) {
	t, err := time.Parse("15:04", c.Monitor.DailyReportTime)
	if err != nil {
		return 0, 0
	}
	return t.Hour(), t.Minute()
}
