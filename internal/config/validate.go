package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Validate checks a Config for invalid values. Missing connection and
// control-plane settings are warned about but not fatal: the gateway and
// in-process triggers still work without them.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port must be 1-65535, got %d", ErrInvalidConfig, cfg.Server.Port)
	}

	if cfg.Database.URL == "" {
		log.Warn().Msg("database.url not set; database triggers and realtime broadcast are disabled")
	}

	if cfg.ControlPlane.URL == "" {
		log.Warn().Msg("control_plane.url not set; execution results will not be reported")
	} else if cfg.ControlPlane.APIKey == "" {
		log.Warn().Msg("control_plane.api_key not set; result reports will be unauthenticated")
	}

	if cfg.Scheduler.Interval < time.Second {
		return fmt.Errorf("%w: scheduler.interval must be at least 1s", ErrInvalidConfig)
	}
	if cfg.Scheduler.MinGap < cfg.Scheduler.Interval {
		return fmt.Errorf("%w: scheduler.min_gap must be at least scheduler.interval", ErrInvalidConfig)
	}

	if cfg.Functions.Timeout <= 0 {
		return fmt.Errorf("%w: functions.timeout must be positive", ErrInvalidConfig)
	}

	if cfg.Realtime.Enabled && cfg.Realtime.SessionTimeout < 10*time.Second {
		return fmt.Errorf("%w: realtime.session_timeout must be at least 10s", ErrInvalidConfig)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("%w: unknown logging.level %q", ErrInvalidConfig, cfg.Logging.Level)
	}

	return nil
}
