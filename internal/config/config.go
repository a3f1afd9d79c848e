// Package config provides Viper-based configuration loading for the Explore client.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds backend endpoint settings.
type ServerConfig struct {
	// BaseURL is the HTTP(S) base of the Explore backend, e.g. "https://explore.example.com".
	BaseURL string `mapstructure:"base_url"`
	// SocketPath is the path of the realtime socket endpoint.
	SocketPath string `mapstructure:"socket_path"`
	// RequestTimeout bounds each REST call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SocketURL returns the websocket URL derived from BaseURL and SocketPath.
//
// Precondition: BaseURL must be a valid http or https URL.
// Postcondition: Returns a ws:// or wss:// URL string.
func (s ServerConfig) SocketURL() (string, error) {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL %q: %w", s.BaseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	u.Path = s.SocketPath
	return u.String(), nil
}

// RoomConfig holds room selection settings.
type RoomConfig struct {
	// DefaultID is the well-known public room every client can fall back to.
	DefaultID string `mapstructure:"default_id"`
}

// ReconnectConfig holds transport retry settings.
type ReconnectConfig struct {
	// InitialBackoff is the delay before the first reconnect attempt.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// MaxBackoff caps the exponential backoff between attempts.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
	// MaxAttempts limits consecutive failed attempts; 0 means retry forever.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// File, when non-empty, routes output to a rotating log file instead of stderr.
	File string `mapstructure:"file"`
	// MaxSizeMB is the rotation threshold per log file.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files to retain.
	MaxBackups int `mapstructure:"max_backups"`
	// MaxAgeDays is the retention period for rotated files.
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// DevServerConfig holds settings for the local development backend.
type DevServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `mapstructure:"addr"`
	// SkinDir is the directory holding the YAML skin catalog.
	SkinDir string `mapstructure:"skin_dir"`
	// RoomsFile is the YAML file describing the available rooms.
	RoomsFile string `mapstructure:"rooms_file"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Room      RoomConfig      `mapstructure:"room"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	DevServer DevServerConfig `mapstructure:"devserver"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRoom(c.Room); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateReconnect(c.Reconnect); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if c.DevServer.Addr == "" {
		errs = append(errs, "devserver.addr must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.BaseURL == "" {
		errs = append(errs, "server.base_url must not be empty")
	} else if _, err := s.SocketURL(); err != nil {
		errs = append(errs, fmt.Sprintf("server.base_url invalid: %v", err))
	}
	if !strings.HasPrefix(s.SocketPath, "/") {
		errs = append(errs, fmt.Sprintf("server.socket_path must start with /, got %q", s.SocketPath))
	}
	if s.RequestTimeout <= 0 {
		errs = append(errs, "server.request_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRoom(r RoomConfig) error {
	if r.DefaultID == "" {
		return errors.New("room.default_id must not be empty")
	}
	return nil
}

func validateReconnect(r ReconnectConfig) error {
	var errs []string
	if r.InitialBackoff <= 0 {
		errs = append(errs, "reconnect.initial_backoff must be positive")
	}
	if r.MaxBackoff < r.InitialBackoff {
		errs = append(errs, "reconnect.max_backoff must not be less than reconnect.initial_backoff")
	}
	if r.MaxAttempts < 0 {
		errs = append(errs, fmt.Sprintf("reconnect.max_attempts must be >= 0, got %d", r.MaxAttempts))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	if l.File != "" && l.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be >= 1 when logging.file is set, got %d", l.MaxSizeMB)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with EXPLORE_ prefix
	v.SetEnvPrefix("EXPLORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.socket_path", "/socket")
	v.SetDefault("server.request_timeout", "10s")

	v.SetDefault("room.default_id", "world")

	v.SetDefault("reconnect.initial_backoff", "1s")
	v.SetDefault("reconnect.max_backoff", "30s")
	v.SetDefault("reconnect.max_attempts", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)

	v.SetDefault("devserver.addr", ":8080")
	v.SetDefault("devserver.skin_dir", "content/skins")
	v.SetDefault("devserver.rooms_file", "content/rooms.yaml")
}
