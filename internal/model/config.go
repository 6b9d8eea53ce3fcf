package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backend identifiers.
const (
	StoreBackendSQLite  = "sqlite"
	StoreBackendKeyring = "keyring"
)

// APIConfig holds settings for the remote chat service.
type APIConfig struct {
	// BaseURL is the root URL of the chat service.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// TimeoutSec bounds a single HTTP request.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`

	// MaxRetries is how often a rate-limited request is retried.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// AlertsConfig holds due-alert polling settings.
type AlertsConfig struct {
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	DueLimit        int `mapstructure:"due_limit" yaml:"due_limit"`
}

// NotifyConfig holds notice display settings.
type NotifyConfig struct {
	LifetimeMS int `mapstructure:"lifetime_ms" yaml:"lifetime_ms"`
}

// SessionConfig holds session behaviour settings.
type SessionConfig struct {
	// HistoryLimit is the number of messages fetched on restore.
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`

	// SummaryEvery is the number of confirmed message pairs between
	// summary refreshes.
	SummaryEvery int `mapstructure:"summary_every" yaml:"summary_every"`
}

// StoreConfig selects where the active session pair is persisted.
type StoreConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	Alerts  AlertsConfig  `mapstructure:"alerts" yaml:"alerts"`
	Notify  NotifyConfig  `mapstructure:"notify" yaml:"notify"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// PollInterval returns the due-alert polling interval.
func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.Alerts.PollIntervalSec) * time.Second
}

// NoticeLifetime returns the default notice lifetime.
func (c *AppConfig) NoticeLifetime() time.Duration {
	return time.Duration(c.Notify.LifetimeMS) * time.Millisecond
}

// RequestTimeout returns the per-request HTTP timeout.
func (c *AppConfig) RequestTimeout() time.Duration {
	return time.Duration(c.API.TimeoutSec) * time.Second
}

// configDir returns ~/.config/chatsync, falling back to the working
// directory when the home directory is unknown.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "chatsync")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/chatsync/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultStatePath returns the default SQLite state database path.
func DefaultStatePath() string {
	return filepath.Join(configDir(), "state.db")
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		API: APIConfig{
			BaseURL:    "http://localhost:8000",
			TimeoutSec: 30,
			MaxRetries: 3,
		},
		Alerts: AlertsConfig{
			PollIntervalSec: 30,
			DueLimit:        10,
		},
		Notify: NotifyConfig{
			LifetimeMS: 4000,
		},
		Session: SessionConfig{
			HistoryLimit: 50,
			SummaryEvery: 5,
		},
		Store: StoreConfig{
			Backend: StoreBackendSQLite,
			Path:    DefaultStatePath(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// CHATSYNC_* environment variables override file values (for example
// CHATSYNC_API_BASE_URL). If the file does not exist, defaults plus
// environment overrides are returned.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("chatsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values and are
	// visible to AutomaticEnv during Unmarshal.
	def := DefaultAppConfig()
	v.SetDefault("api.base_url", def.API.BaseURL)
	v.SetDefault("api.timeout_sec", def.API.TimeoutSec)
	v.SetDefault("api.max_retries", def.API.MaxRetries)
	v.SetDefault("alerts.poll_interval_sec", def.Alerts.PollIntervalSec)
	v.SetDefault("alerts.due_limit", def.Alerts.DueLimit)
	v.SetDefault("notify.lifetime_ms", def.Notify.LifetimeMS)
	v.SetDefault("session.history_limit", def.Session.HistoryLimit)
	v.SetDefault("session.summary_every", def.Session.SummaryEvery)
	v.SetDefault("store.backend", def.Store.Backend)
	v.SetDefault("store.path", def.Store.Path)
	v.SetDefault("log.level", def.Log.Level)

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks that values are usable, filling non-positive numbers
// with defaults.
func (c *AppConfig) Validate() error {
	def := DefaultAppConfig()

	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("api.base_url must not be empty")
	}
	if c.API.TimeoutSec <= 0 {
		c.API.TimeoutSec = def.API.TimeoutSec
	}
	if c.API.MaxRetries < 0 {
		c.API.MaxRetries = 0
	}
	if c.Alerts.PollIntervalSec <= 0 {
		c.Alerts.PollIntervalSec = def.Alerts.PollIntervalSec
	}
	if c.Alerts.DueLimit <= 0 {
		c.Alerts.DueLimit = def.Alerts.DueLimit
	}
	if c.Notify.LifetimeMS <= 0 {
		c.Notify.LifetimeMS = def.Notify.LifetimeMS
	}
	if c.Session.HistoryLimit <= 0 {
		c.Session.HistoryLimit = def.Session.HistoryLimit
	}
	if c.Session.SummaryEvery <= 0 {
		c.Session.SummaryEvery = def.Session.SummaryEvery
	}

	switch c.Store.Backend {
	case StoreBackendSQLite, StoreBackendKeyring:
	case "":
		c.Store.Backend = StoreBackendSQLite
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}

	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("api", cfg.API)
	v.Set("alerts", cfg.Alerts)
	v.Set("notify", cfg.Notify)
	v.Set("session", cfg.Session)
	v.Set("store", cfg.Store)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
