package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nmdchub/nmdchub/internal/hub"
	"github.com/nmdchub/nmdchub/internal/hub/bot"
	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/pkg/api"
	"github.com/nmdchub/nmdchub/pkg/config"
	"github.com/nmdchub/nmdchub/pkg/metrics"
	"github.com/nmdchub/nmdchub/pkg/metrics/prometheus"
	"github.com/nmdchub/nmdchub/pkg/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the hub server",
	Long: `Start the NMDC hub with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/nmdchub/config.yaml.

Examples:
  # Start with default config location
  nmdchub start

  # Start with custom config file
  nmdchub start --config /etc/nmdchub/config.yaml

  # Use environment variables to override config
  NMDCHUB_LOGGING_LEVEL=DEBUG nmdchub start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Metrics first, so the hub and store see IsEnabled.
	var hubMetrics *prometheus.HubMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		hubMetrics = prometheus.NewHubMetrics()
		logger.Info("metrics enabled")
	} else {
		logger.Info("metrics disabled")
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()
	logger.Info("store opened", "type", cfg.Database.Type)

	h := hub.New(cfg.Hub, st, hubMetrics)
	for _, factory := range bot.Factories() {
		h.RegisterBot(factory)
	}
	if err := h.Setup(ctx); err != nil {
		return fmt.Errorf("hub setup: %w", err)
	}

	hubDone := make(chan error, 1)
	go func() {
		hubDone <- h.Run(ctx)
	}()

	var apiServer *api.Server
	apiDone := make(chan error, 1)
	if cfg.API.Enabled {
		apiServer = api.New(cfg.API, h)
		go func() {
			apiDone <- apiServer.Start()
		}()
		logger.Info("status api enabled", "port", cfg.API.Port)
	} else {
		logger.Info("status api disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("hub is running, press Ctrl+C to stop")

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-hubDone:
		if err != nil {
			return fmt.Errorf("hub: %w", err)
		}
		return nil
	case err := <-apiDone:
		if err != nil {
			return err
		}
	}

	cancel()
	h.Shutdown()
	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("status api shutdown error", "error", err)
		}
	}

	select {
	case err := <-hubDone:
		if err != nil {
			return fmt.Errorf("hub: %w", err)
		}
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn("shutdown timed out")
	}
	logger.Info("hub stopped gracefully")
	return nil
}
