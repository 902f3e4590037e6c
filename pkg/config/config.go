// Package config loads server configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	// Listen is the HTTP listen address serving /api, /subscriptions and
	// /metrics.
	Listen string `yaml:"listen"`

	Database      DatabaseConfig      `yaml:"database"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Log           LogConfig           `yaml:"log"`
}

// DatabaseConfig configures the sqlite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Duration wraps time.Duration so YAML values like "10s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SubscriptionsConfig configures the subscription transport.
type SubscriptionsConfig struct {
	KeepaliveInterval Duration `yaml:"keepalive_interval"`
	InitTimeout       Duration `yaml:"init_timeout"`
	QueueCapacity     int      `yaml:"queue_capacity"`
	OverflowWindow    Duration `yaml:"overflow_window"`
	OverflowLimit     int      `yaml:"overflow_limit"`
	WriteTimeout      Duration `yaml:"write_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		Listen:   ":8080",
		Database: DatabaseConfig{Path: "chatty.db"},
		Subscriptions: SubscriptionsConfig{
			KeepaliveInterval: Duration(10 * time.Second),
			InitTimeout:       Duration(10 * time.Second),
			QueueCapacity:     64,
			OverflowWindow:    Duration(30 * time.Second),
			OverflowLimit:     3,
			WriteTimeout:      Duration(10 * time.Second),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path (when non-empty) over the defaults and applies CHATTY_*
// environment overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("environment override: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("CHATTY_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("CHATTY_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CHATTY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CHATTY_KEEPALIVE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CHATTY_KEEPALIVE_INTERVAL: %w", err)
		}
		cfg.Subscriptions.KeepaliveInterval = Duration(d)
	}
	if v := os.Getenv("CHATTY_QUEUE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHATTY_QUEUE_CAPACITY: %w", err)
		}
		cfg.Subscriptions.QueueCapacity = n
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address cannot be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database path cannot be empty")
	}
	s := c.Subscriptions
	if s.KeepaliveInterval <= 0 {
		return fmt.Errorf("config: keepalive_interval must be positive")
	}
	if s.InitTimeout <= 0 {
		return fmt.Errorf("config: init_timeout must be positive")
	}
	if s.QueueCapacity <= 0 {
		return fmt.Errorf("config: queue_capacity must be positive")
	}
	if s.OverflowWindow <= 0 {
		return fmt.Errorf("config: overflow_window must be positive")
	}
	if s.OverflowLimit <= 0 {
		return fmt.Errorf("config: overflow_limit must be positive")
	}
	if s.WriteTimeout <= 0 {
		return fmt.Errorf("config: write_timeout must be positive")
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}
