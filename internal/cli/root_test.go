package cli

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/tidalhq/tidal/internal/config"
)

func TestApplyLogConfigLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{name: "debug", level: "debug", want: zerolog.DebugLevel},
		{name: "warn", level: "warn", want: zerolog.WarnLevel},
		{name: "error", level: "error", want: zerolog.ErrorLevel},
		{name: "unknown keeps current", level: "loud", want: zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			applyLogConfig(&config.LoggingConfig{Level: tt.level, Format: "console"})
			if got := zerolog.GlobalLevel(); got != tt.want {
				t.Errorf("global level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyLogConfigVerboseWins(t *testing.T) {
	verbose = true
	defer func() { verbose = false }()

	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	applyLogConfig(&config.LoggingConfig{Level: "error", Format: "console"})
	if got := zerolog.GlobalLevel(); got != zerolog.DebugLevel {
		t.Errorf("global level = %v, want debug", got)
	}
}

func TestServeCommandRegistered(t *testing.T) {
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == "serve" {
			return
		}
	}
	t.Fatal("serve command not registered on root")
}
