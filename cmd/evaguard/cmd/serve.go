package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/evaguard/evaguard/internal/adapter/inbound/http"
	"github.com/evaguard/evaguard/internal/adapter/outbound/rulefile"
	"github.com/evaguard/evaguard/internal/config"
	"github.com/evaguard/evaguard/internal/service"
	"github.com/evaguard/evaguard/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the evaguard HTTP API.

Endpoints:
  POST   /v1/check                 check a message
  GET    /v1/rules                 list rules
  POST   /v1/rules                 add a rule
  POST   /v1/rules/{id}/enable     enable a rule
  POST   /v1/rules/{id}/disable    disable a rule
  DELETE /v1/rules/{id}            remove a rule
  GET    /v1/decisions             query recorded decisions
  GET    /v1/stats                 decision statistics
  GET    /health                   health check
  GET    /metrics                  Prometheus metrics

Examples:
  # Start with config file settings
  evaguard serve

  # Start in development mode (debug logging, monitor mode, in-memory evidence)
  evaguard serve --dev

  # Start with a specific config file
  evaguard --config /path/to/config.yaml serve`,
	RunE: runServe,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, monitor mode)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(devMode)
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	if cfg.DevMode {
		logger.Warn("development mode enabled: do not use in production")
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := serve(ctx, cfg, resolveStatePath(), logger); err != nil {
		return err
	}
	logger.Info("evaguard stopped")
	return nil
}

// serve wires every component and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, statePath string, logger *slog.Logger) error {
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(ctx, telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			Version:        Version,
			MetricInterval: mustDuration(cfg.Telemetry.MetricInterval),
		})
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", "error", err)
			}
		}()
		logger.Info("telemetry enabled", "service", cfg.Telemetry.ServiceName)
	}

	a, err := newApp(ctx, cfg, statePath, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	retention := service.NewRetentionScheduler(a.pruner(),
		mustDuration(cfg.Evidence.Retention), cfg.Evidence.PruneSchedule, logger)
	if err := retention.Start(ctx); err != nil {
		return fmt.Errorf("start retention: %w", err)
	}
	defer retention.Stop()

	if cfg.Rules.Watch {
		watcher, err := rulefile.NewWatcher(cfg.Rules.File, 0, logger)
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Stop() }()
		go func() {
			if err := watcher.Watch(ctx, func() error { return a.reloadRuleFile(ctx) }); err != nil {
				logger.Error("rule file watcher stopped", "error", err)
			}
		}()
		logger.Info("watching rules file", "file", cfg.Rules.File)
	}

	ring, err := a.keyRing()
	if err != nil {
		return fmt.Errorf("auth.api_keys: %w", err)
	}
	if ring.Empty() {
		logger.Warn("no API keys configured: HTTP API is unauthenticated")
	}

	health := httpapi.NewHealthChecker(a.compliance, a.evidence, a.pinger, Version)
	transport := httpapi.NewHTTPTransport(a.compliance,
		httpapi.WithAddr(cfg.Server.HTTPAddr),
		httpapi.WithLogger(logger),
		httpapi.WithKeyRing(ring),
		httpapi.WithQueryStore(a.backend),
		httpapi.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		httpapi.WithShutdownTimeout(mustDuration(cfg.Server.ShutdownTimeout)),
		httpapi.WithHealthChecker(health),
	)
	return transport.Start(ctx)
}
