// Package config provides configuration management for Tidal.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure for Tidal.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	ControlPlane ControlPlaneConfig `mapstructure:"control_plane"`
	Functions    FunctionsConfig    `mapstructure:"functions"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Realtime     RealtimeConfig     `mapstructure:"realtime"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP gateway settings.
type ServerConfig struct {
	// Host to bind the server to
	Host string `mapstructure:"host"`

	// Port to listen on
	Port int `mapstructure:"port"`

	// Enable CORS
	CORS CORSConfig `mapstructure:"cors"`

	// Request timeouts
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// Maximum request body size in bytes
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	AllowedMethods []string      `mapstructure:"allowed_methods"`
	AllowedHeaders []string      `mapstructure:"allowed_headers"`
	MaxAge         time.Duration `mapstructure:"max_age"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	// Connection URL (postgres://...)
	URL string `mapstructure:"url"`

	// Maximum pooled connections
	MaxConns int32 `mapstructure:"max_conns"`

	// Minimum pooled connections kept warm
	MinConns int32 `mapstructure:"min_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// Pool health check period
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`

	// Delay between LISTEN reconnect attempts
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
}

// ControlPlaneConfig holds settings for the execution-result callback.
type ControlPlaneConfig struct {
	// Base URL of the control-plane API (empty disables reporting)
	URL string `mapstructure:"url"`

	// API key sent in the x-api-key header
	APIKey string `mapstructure:"api_key"`

	// Per-report request timeout
	Timeout time.Duration `mapstructure:"timeout"`
}

// FunctionsConfig holds serverless functions settings.
type FunctionsConfig struct {
	// Path to the functions directory
	Path string `mapstructure:"path"`

	// Default execution timeout
	Timeout time.Duration `mapstructure:"timeout"`

	// Environment variables passed to every function
	Env map[string]string `mapstructure:"env"`

	// Watch the functions directory and rescan on change
	Watch bool `mapstructure:"watch"`
}

// SchedulerConfig holds schedule-trigger settings.
type SchedulerConfig struct {
	// Tick interval for evaluating schedule triggers
	Interval time.Duration `mapstructure:"interval"`

	// Minimum gap between two dispatches of the same trigger
	MinGap time.Duration `mapstructure:"min_gap"`
}

// RealtimeConfig holds broadcast relay settings.
type RealtimeConfig struct {
	// Enable the realtime relay
	Enabled bool `mapstructure:"enabled"`

	// Maximum concurrent WebSocket connections
	MaxConnections int `mapstructure:"max_connections"`

	// Maximum subscriptions per connection
	MaxSubscriptions int `mapstructure:"max_subscriptions"`

	// Close a connection that misses heartbeats for this long
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
