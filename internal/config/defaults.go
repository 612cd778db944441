package config

import "time"

// Default configuration values.
const (
	// Server defaults.
	DefaultHost         = "localhost"
	DefaultPort         = 8085
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 120 * time.Second
	DefaultMaxBodySize  = 10 * 1024 * 1024 // 10MB

	// Database defaults.
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultConnMaxLifetime   = time.Hour
	DefaultHealthCheckPeriod = 30 * time.Second
	DefaultReconnectBackoff  = 5 * time.Second

	// Control plane defaults.
	DefaultReportTimeout = 10 * time.Second

	// Functions defaults.
	DefaultFunctionsPath   = "functions"
	DefaultFunctionTimeout = 30 * time.Second

	// Scheduler defaults.
	DefaultSchedulerInterval = 5 * time.Second
	DefaultSchedulerMinGap   = 50 * time.Second

	// Realtime defaults.
	DefaultMaxConnections   = 1000
	DefaultMaxSubscriptions = 100
	DefaultSessionTimeout   = 70 * time.Second

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				MaxAge:         5 * time.Minute,
			},
		},
		Database: DatabaseConfig{
			MaxConns:          DefaultMaxConns,
			MinConns:          DefaultMinConns,
			ConnMaxLifetime:   DefaultConnMaxLifetime,
			HealthCheckPeriod: DefaultHealthCheckPeriod,
			ReconnectBackoff:  DefaultReconnectBackoff,
		},
		ControlPlane: ControlPlaneConfig{
			Timeout: DefaultReportTimeout,
		},
		Functions: FunctionsConfig{
			Path:    DefaultFunctionsPath,
			Timeout: DefaultFunctionTimeout,
		},
		Scheduler: SchedulerConfig{
			Interval: DefaultSchedulerInterval,
			MinGap:   DefaultSchedulerMinGap,
		},
		Realtime: RealtimeConfig{
			Enabled:          true,
			MaxConnections:   DefaultMaxConnections,
			MaxSubscriptions: DefaultMaxSubscriptions,
			SessionTimeout:   DefaultSessionTimeout,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
