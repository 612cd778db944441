package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tidalhq/tidal/internal/config"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tidal",
	Short: "Event-driven functions and realtime broadcast over Postgres",
	Long: `Tidal runs serverless functions and realtime WebSocket broadcast on
top of a PostgreSQL database:

  - Functions deployed as single handler files with YAML manifests
  - HTTP, webhook, schedule, event, and database-change triggers
  - Change capture via LISTEN/NOTIFY with automatic trigger installation
  - Phoenix-style WebSocket channels for realtime broadcast
  - Execution results reported back to a control plane

Start the server:
  tidal serve`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./tidal.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// setupLogging configures zerolog before any command runs. The serve
// command refines the level and format once the config file is loaded.
func setupLogging() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// applyLogConfig reapplies logging settings from the loaded config. The
// --verbose flag wins over the configured level.
func applyLogConfig(cfg *config.LoggingConfig) {
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if verbose {
		return
	}
	if level, err := zerolog.ParseLevel(cfg.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, keeping default")
	}
}
