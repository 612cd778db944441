package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tidalhq/tidal/internal/config"
	"github.com/tidalhq/tidal/internal/events"
	"github.com/tidalhq/tidal/internal/functions"
	"github.com/tidalhq/tidal/internal/listener"
	"github.com/tidalhq/tidal/internal/postgres"
	"github.com/tidalhq/tidal/internal/realtime"
	"github.com/tidalhq/tidal/internal/scheduler"
	"github.com/tidalhq/tidal/internal/server"
)

var (
	servePort    int
	serveHost    string
	serveNoWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Tidal server",
	Long: `Start the Tidal server.

The server will:
  - Scan the functions directory and load manifests
  - Connect to PostgreSQL and install the change-notify function
  - LISTEN on every channel referenced by a database trigger
  - Start the HTTP gateway and realtime WebSocket endpoint
  - Evaluate schedule triggers on a fixed tick

Use --no-watch to disable functions-directory watching.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8085, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Disable functions-directory watching")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		log.Warn().Err(err).Msg("Config load failed, using defaults")
		cfg = config.Default()
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	applyLogConfig(&cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	if deps.Pool != nil {
		defer deps.Pool.Close()
	}

	srv := server.New(cfg, deps)

	if err := deps.Service.Rescan(ctx); err != nil {
		log.Error().Err(err).Msg("Initial function scan failed")
		srv.SyncListener(ctx)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if deps.Listener != nil {
		go deps.Listener.Run(ctx)
	}
	go scheduler.New(deps.Service, cfg.Scheduler.Interval, cfg.Scheduler.MinGap).Run(ctx)

	if cfg.Functions.Watch && !serveNoWatch {
		watcher, watchErr := functions.NewWatcher(deps.Service)
		if watchErr == nil {
			watchErr = watcher.Start()
		}
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("Failed to start function watcher, continuing without hot-reload")
		} else {
			defer func() { _ = watcher.Stop() }()
			log.Info().Str("dir", cfg.Functions.Path).Msg("Watching functions directory")
		}
	}

	logServerInfo(cfg)

	if err := srv.Start(); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	<-ctx.Done()
	return nil
}

// buildDeps assembles the subsystems behind the gateway. A missing or
// unreachable database degrades the server instead of failing startup:
// HTTP, webhook, schedule, and event triggers keep working, and health
// reports the database as disconnected.
func buildDeps(ctx context.Context, cfg *config.Config) (server.Deps, error) {
	registry := functions.NewRegistry()
	completed := functions.NewCompletedSet()
	scanner := functions.NewScanner(cfg.Functions.Path, registry, completed)
	scanner.SetBaseEnv(cfg.Functions.Env)

	bus := events.NewBus()
	reporter := functions.NewReporter(cfg.ControlPlane.URL, cfg.ControlPlane.APIKey, cfg.ControlPlane.Timeout)
	executor := functions.NewExecutor(functions.NewSubprocessRuntime(), registry, completed, reporter, cfg.Functions.Timeout)
	service := functions.NewService(registry, scanner, executor, completed, bus)

	deps := server.Deps{Service: service, Bus: bus}

	if cfg.Database.URL == "" {
		log.Warn().Msg("No database URL configured, running without change capture")
	} else if pool, err := postgres.Connect(ctx, &cfg.Database); err != nil {
		log.Warn().Err(err).Msg("Database unreachable, running without change capture")
	} else {
		deps.Pool = pool
		deps.Installer = listener.NewInstaller(pool)
		deps.Listener = listener.New(cfg.Database.URL, cfg.Database.ReconnectBackoff)

		if err := deps.Installer.EnsureNotifyFunction(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to install notify function")
		}
	}

	if cfg.Realtime.Enabled {
		deps.Hub = realtime.NewHub(cfg.Realtime.MaxConnections, cfg.Realtime.MaxSubscriptions)
	}

	wireNotifications(deps)
	return deps, nil
}

// wireNotifications connects the change stream to its two consumers and
// lets realtime joins pull new channels into the LISTEN set.
func wireNotifications(deps server.Deps) {
	if deps.Listener != nil {
		hub := deps.Hub
		svc := deps.Service
		deps.Listener.OnNotification(func(n *listener.Notification) {
			if hub != nil {
				hub.HandleNotification(n)
			}
			op := functions.Operation(strings.ToUpper(n.Event))
			svc.DispatchChange(n.Channel, op, n.Payload())
		})
	}

	if deps.Hub != nil && deps.Listener != nil {
		lst := deps.Listener
		installer := deps.Installer
		deps.Hub.OnJoin(func(topic string) {
			lst.Subscribe(topic)
			if table, ok := strings.CutPrefix(topic, "table:"); ok && installer != nil {
				go func() {
					ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
					defer done()
					if err := installer.EnsureTableTrigger(ctx, table); err != nil {
						log.Warn().Err(err).Str("table", table).Msg("Failed to install table trigger")
					}
				}()
			}
		})
	}
}

func logServerInfo(cfg *config.Config) {
	log.Info().
		Str("url", "http://"+cfg.Server.Address()).
		Str("functions", cfg.Functions.Path).
		Msg("Server started")

	if cfg.Realtime.Enabled {
		log.Info().
			Str("ws", "ws://"+cfg.Server.Address()+"/realtime").
			Msg("Realtime WebSocket endpoint")
	}
}
