// Package config provides Viper-based configuration loading for the gateway.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Name is the game name shown in the welcome banner.
	Name string `mapstructure:"name"`
	// Store selects the credential store backend: "postgres" or "memory".
	Store string `mapstructure:"store"`
	// TextsFile optionally points at a YAML file overriding the client-facing texts.
	TextsFile string `mapstructure:"texts_file"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// CallTimeout bounds a single store round trip made on behalf of a session.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// TelnetConfig holds Telnet acceptor settings.
type TelnetConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Host is the bind address for the Telnet listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the Telnet listener. 0 selects a free port.
	Port int `mapstructure:"port"`
	// ReadTimeout is the per-read timeout for Telnet connections. 0 disables it.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-write timeout for Telnet connections.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" listen address.
func (t TelnetConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// WebSocketConfig holds WebSocket listener settings.
type WebSocketConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	// Path is the HTTP path upgraded to WebSocket.
	Path string `mapstructure:"path"`
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ReadIdleTimeout closes connections that send nothing for this long. 0 disables it.
	ReadIdleTimeout time.Duration `mapstructure:"read_idle_timeout"`
	// MaxFrameBytes is the largest inbound frame accepted.
	MaxFrameBytes int64 `mapstructure:"max_frame_bytes"`
	// AllowedOrigins lists origin host patterns accepted for cross-origin upgrades.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns the "host:port" listen address.
func (w WebSocketConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Addr returns the "host:port" listen address.
func (m MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// AuthConfig holds login token settings.
type AuthConfig struct {
	// TokenPepper keys the token digest. Empty selects an unkeyed digest.
	TokenPepper string `mapstructure:"token_pepper"`
	// TokenBytes is the number of random bytes in a generated token.
	TokenBytes int `mapstructure:"token_bytes"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telnet    TelnetConfig    `mapstructure:"telnet"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Server.Store == StorePostgres {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if !c.Telnet.Enabled && !c.WebSocket.Enabled {
		errs = append(errs, "at least one of telnet.enabled or websocket.enabled must be true")
	}
	if c.Telnet.Enabled {
		if err := validateTelnet(c.Telnet); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.WebSocket.Enabled {
		if err := validateWebSocket(c.WebSocket); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Metrics.Enabled {
		if err := validateMetrics(c.Metrics); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateAuth(c.Auth); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Name == "" {
		errs = append(errs, "server.name must not be empty")
	}
	if s.Store != StorePostgres && s.Store != StoreMemory {
		errs = append(errs, fmt.Sprintf("server.store must be one of [postgres, memory], got %q", s.Store))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if d.CallTimeout <= 0 {
		errs = append(errs, "database.call_timeout must be positive")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validatePort(section string, port int) string {
	if port < 0 || port > 65535 {
		return fmt.Sprintf("%s.port must be 0-65535, got %d", section, port)
	}
	return ""
}

func validateTelnet(t TelnetConfig) error {
	var errs []string
	if msg := validatePort("telnet", t.Port); msg != "" {
		errs = append(errs, msg)
	}
	if t.ReadTimeout < 0 {
		errs = append(errs, "telnet.read_timeout must not be negative")
	}
	if t.WriteTimeout < 0 {
		errs = append(errs, "telnet.write_timeout must not be negative")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateWebSocket(w WebSocketConfig) error {
	var errs []string
	if msg := validatePort("websocket", w.Port); msg != "" {
		errs = append(errs, msg)
	}
	if !strings.HasPrefix(w.Path, "/") {
		errs = append(errs, fmt.Sprintf("websocket.path must start with '/', got %q", w.Path))
	}
	if w.WriteTimeout <= 0 {
		errs = append(errs, "websocket.write_timeout must be positive")
	}
	if w.ReadIdleTimeout < 0 {
		errs = append(errs, "websocket.read_idle_timeout must not be negative")
	}
	if w.MaxFrameBytes < 64 {
		errs = append(errs, fmt.Sprintf("websocket.max_frame_bytes must be >= 64, got %d", w.MaxFrameBytes))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
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
	return nil
}

func validateMetrics(m MetricsConfig) error {
	var errs []string
	if msg := validatePort("metrics", m.Port); msg != "" {
		errs = append(errs, msg)
	}
	if !strings.HasPrefix(m.Path, "/") {
		errs = append(errs, fmt.Sprintf("metrics.path must start with '/', got %q", m.Path))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateAuth(a AuthConfig) error {
	var errs []string
	if n := len(a.TokenPepper); n != 0 && (n < 16 || n > 64) {
		errs = append(errs, fmt.Sprintf("auth.token_pepper must be empty or 16-64 bytes, got %d", n))
	}
	if a.TokenBytes < 16 || a.TokenBytes > 64 {
		errs = append(errs, fmt.Sprintf("auth.token_bytes must be 16-64, got %d", a.TokenBytes))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
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

	// Environment variable overrides with NIGHTRAID_ prefix
	v.SetEnvPrefix("NIGHTRAID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
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

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "nightRAID")
	v.SetDefault("server.store", StorePostgres)
	v.SetDefault("server.texts_file", "")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "nightraid")
	v.SetDefault("database.password", "nightraid")
	v.SetDefault("database.name", "nightraid")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.call_timeout", "5s")

	v.SetDefault("telnet.enabled", false)
	v.SetDefault("telnet.host", "0.0.0.0")
	v.SetDefault("telnet.port", 4000)
	v.SetDefault("telnet.read_timeout", "0s")
	v.SetDefault("telnet.write_timeout", "30s")

	v.SetDefault("websocket.enabled", true)
	v.SetDefault("websocket.host", "127.0.0.1")
	v.SetDefault("websocket.port", 7331)
	v.SetDefault("websocket.path", "/")
	v.SetDefault("websocket.write_timeout", "5s")
	v.SetDefault("websocket.read_idle_timeout", "0s")
	v.SetDefault("websocket.max_frame_bytes", 4096)
	v.SetDefault("websocket.allowed_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.host", "127.0.0.1")
	v.SetDefault("metrics.port", 9100)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("auth.token_pepper", "")
	v.SetDefault("auth.token_bytes", 24)
}
