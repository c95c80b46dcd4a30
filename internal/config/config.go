package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/leonletto/webdemos/internal/pidfile"
)

// Default values used when neither the config file nor the environment
// say otherwise.
const (
	DefaultPort         = 8000
	DefaultUser         = "nobody"
	DefaultPollInterval = time.Second
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "auto"
)

// Config is the resolved configuration shared by all programs.
type Config struct {
	Port         int             `json:"port"`
	BindAddr     string          `json:"bind_addr"`
	RunDir       string          `json:"run_dir"`        // Directory holding <prog>.pid
	User         string          `json:"user"`           // Account to switch to after binding (root only)
	Workers      int             `json:"workers"`        // Poll workers; 0 means CPUs + 1
	PollMillis   int             `json:"poll_ms"`        // Upper bound for one poll slice
	CloseOnExec  bool            `json:"close_on_exec"`  // Mark the PID file descriptor FD_CLOEXEC
	AccessDB     string          `json:"access_db"`      // SQLite file for request history (empty disables)
	HistoryDays  int             `json:"history_days"`   // Days of request history to keep; 0 keeps everything
	Log          LogConfig       `json:"log"`
	RateLimit    RateLimitConfig `json:"rate_limit"`
	Tailscale    TailscaleConfig `json:"tailscale"`
	PollInterval time.Duration   `json:"-"`
}

// LogConfig selects level, output format and destination.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // auto, text, json
	Syslog bool   `json:"syslog"` // Send records to the system log (facility daemon)
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Port:         DefaultPort,
		RunDir:       pidfile.DefaultRunDir,
		User:         DefaultUser,
		PollMillis:   int(DefaultPollInterval / time.Millisecond),
		PollInterval: DefaultPollInterval,
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		RateLimit: DefaultRateLimitConfig(),
		Tailscale: TailscaleConfig{
			Port: DefaultPort,
		},
	}
}

// Load builds the configuration with the following priority:
// 1. Environment variables (WEBDEMOS_*) (highest)
// 2. JSON config file at path, if path is non-empty
// 3. Defaults
//
// CLI flags are applied by the caller on top of the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.PollInterval = time.Duration(cfg.PollMillis) * time.Millisecond
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304 - path supplied by operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return fmt.Errorf("read config file: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("WEBDEMOS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WEBDEMOS_PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v := os.Getenv("WEBDEMOS_BIND"); v != "" {
		c.BindAddr = v
	}
	if v := os.Getenv("WEBDEMOS_RUN_DIR"); v != "" {
		c.RunDir = v
	}
	if v := os.Getenv("WEBDEMOS_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv("WEBDEMOS_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WEBDEMOS_WORKERS %q: %w", v, err)
		}
		c.Workers = n
	}
	if v := os.Getenv("WEBDEMOS_ACCESS_DB"); v != "" {
		c.AccessDB = v
	}
	if v := os.Getenv("WEBDEMOS_HISTORY_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WEBDEMOS_HISTORY_DAYS %q: %w", v, err)
		}
		c.HistoryDays = n
	}
	if v := os.Getenv("WEBDEMOS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("WEBDEMOS_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if envBool("WEBDEMOS_SYSLOG") {
		c.Log.Syslog = true
	}
	if envBool("WEBDEMOS_CLOSE_ON_EXEC") {
		c.CloseOnExec = true
	}

	if err := c.RateLimit.applyEnv(); err != nil {
		return err
	}
	c.Tailscale.applyEnv()
	return nil
}

// HistoryRetention returns how long access history is kept, or 0 for no
// limit.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryDays) * 24 * time.Hour
}

// Addr returns the host:port the responder binds to.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.BindAddr, strconv.Itoa(c.Port))
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.HistoryDays < 0 {
		return fmt.Errorf("history days must not be negative, got %d", c.HistoryDays)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q; supported: auto, text, json", c.Log.Format)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	return c.Tailscale.Validate()
}

// envBool returns true if the env var is set to a truthy value ("true", "1", "yes").
func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1" || v == "yes"
}
