package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// APIConfig holds the connection settings for the event platform API.
type APIConfig struct {
	// BaseURL is the root URL of the platform (without the /api prefix).
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// Timeout bounds a single HTTP request.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// RequestsPerSec caps the client-side request rate.
	RequestsPerSec int `mapstructure:"requests_per_sec" yaml:"requests_per_sec"`

	// PageSize is how many notifications one fetch asks for.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
}

// PollingConfig holds the notification polling parameters.
type PollingConfig struct {
	BaseInterval           time.Duration `mapstructure:"base_interval" yaml:"base_interval"`
	MaxInterval            time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	BackoffMultiplier      float64       `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	MaxRetries             int           `mapstructure:"max_retries" yaml:"max_retries"`
	VisibilityOptimization bool          `mapstructure:"visibility_optimization" yaml:"visibility_optimization"`
	FetchTimeout           time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
}

// PushConfig holds the push relay settings. An empty RelayURL means push
// is unsupported on this installation.
type PushConfig struct {
	RelayURL string `mapstructure:"relay_url" yaml:"relay_url"`
}

// NetwatchConfig holds the connectivity probe settings.
type NetwatchConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// MailboxConfig holds the optional IMAP mailbox source. The password is
// kept in the system keyring, never in the file.
type MailboxConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Host         string `mapstructure:"host" yaml:"host"`
	Port         string `mapstructure:"port" yaml:"port"`
	Username     string `mapstructure:"username" yaml:"username"`
	TLS          bool   `mapstructure:"tls" yaml:"tls"`
	Sender       string `mapstructure:"sender" yaml:"sender"`
	LookbackDays int    `mapstructure:"lookback_days" yaml:"lookback_days"`
	Limit        int    `mapstructure:"limit" yaml:"limit"`
}

// StorageConfig controls local persistence of the notification inbox.
type StorageConfig struct {
	Path    string `mapstructure:"path" yaml:"path"`
	Persist bool   `mapstructure:"persist" yaml:"persist"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	API      APIConfig      `mapstructure:"api" yaml:"api"`
	Polling  PollingConfig  `mapstructure:"polling" yaml:"polling"`
	Push     PushConfig     `mapstructure:"push" yaml:"push"`
	Netwatch NetwatchConfig `mapstructure:"netwatch" yaml:"netwatch"`
	Mailbox  MailboxConfig  `mapstructure:"mailbox" yaml:"mailbox"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/eventdesk/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "eventdesk")
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	dir := configDir()
	return &AppConfig{
		API: APIConfig{
			BaseURL:        "http://localhost:8000",
			Timeout:        30 * time.Second,
			RequestsPerSec: 5,
			PageSize:       50,
		},
		Polling: PollingConfig{
			BaseInterval:           30 * time.Second,
			MaxInterval:            300 * time.Second,
			BackoffMultiplier:      2,
			MaxRetries:             5,
			VisibilityOptimization: true,
			FetchTimeout:           30 * time.Second,
		},
		Netwatch: NetwatchConfig{
			ProbeInterval: 15 * time.Second,
			ProbeTimeout:  3 * time.Second,
		},
		Mailbox: MailboxConfig{
			Port:         "993",
			TLS:          true,
			LookbackDays: 7,
			Limit:        50,
		},
		Storage: StorageConfig{
			Path:    filepath.Join(dir, "eventdesk.db"),
			Persist: true,
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(dir, "eventdesk.log"),
		},
	}
}

// setDefaults mirrors DefaultAppConfig into viper so missing keys resolve
// to sensible values.
func setDefaults(v *viper.Viper) {
	d := DefaultAppConfig()
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.requests_per_sec", d.API.RequestsPerSec)
	v.SetDefault("api.page_size", d.API.PageSize)
	v.SetDefault("polling.base_interval", d.Polling.BaseInterval)
	v.SetDefault("polling.max_interval", d.Polling.MaxInterval)
	v.SetDefault("polling.backoff_multiplier", d.Polling.BackoffMultiplier)
	v.SetDefault("polling.max_retries", d.Polling.MaxRetries)
	v.SetDefault("polling.visibility_optimization", d.Polling.VisibilityOptimization)
	v.SetDefault("polling.fetch_timeout", d.Polling.FetchTimeout)
	v.SetDefault("netwatch.probe_interval", d.Netwatch.ProbeInterval)
	v.SetDefault("netwatch.probe_timeout", d.Netwatch.ProbeTimeout)
	v.SetDefault("mailbox.port", d.Mailbox.Port)
	v.SetDefault("mailbox.tls", d.Mailbox.TLS)
	v.SetDefault("mailbox.lookback_days", d.Mailbox.LookbackDays)
	v.SetDefault("mailbox.limit", d.Mailbox.Limit)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.persist", d.Storage.Persist)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("EVENTDESK")
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func isNotFound(err error) bool {
	if _, ok := err.(*os.PathError); ok {
		return true
	}
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		if isNotFound(err) {
			return DefaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// WatchConfig re-reads the file at path whenever it changes on disk and
// passes the new configuration to onChange. Parse failures are passed to
// onError and the previous configuration stays in effect.
func WatchConfig(
	path string,
	onChange func(*AppConfig),
	onError func(error),
) error {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg := DefaultAppConfig()
		if err := v.Unmarshal(cfg); err != nil {
			if onError != nil {
				onError(fmt.Errorf("parsing config %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
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
	v.Set("polling", cfg.Polling)
	v.Set("push", cfg.Push)
	v.Set("netwatch", cfg.Netwatch)
	v.Set("mailbox", cfg.Mailbox)
	v.Set("storage", cfg.Storage)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
