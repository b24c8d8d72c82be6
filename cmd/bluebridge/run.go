package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bluebridge/internal/bluebubbles"
	"bluebridge/internal/channel"
	"bluebridge/internal/config"
	"bluebridge/internal/domain"
	"bluebridge/internal/host"
	"bluebridge/internal/metrics"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bridge",
		Long:  "Connects to the BlueBubbles server and relays messages to the agent host. Press Ctrl+C to stop.",
		RunE:  runBridge,
	}
}

// newBlueBubblesClient is the bridge's ClientFactory.
func newBlueBubblesClient(creds config.Credentials, cfg config.BlueBubblesConfig) domain.Client {
	return bluebubbles.New(bluebubbles.Config{
		ServerURL:      creds.ServerURL,
		Password:       creds.Password,
		Timeout:        time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		ReconnectDelay: time.Duration(cfg.ReconnectDelaySeconds) * time.Second,
		Logger:         logger,
	})
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logCloser, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hostClient := host.New(host.Config{
		BaseURL: cfg.Host.BaseURL,
		APIKey:  cfg.Host.APIKey,
		Timeout: time.Duration(cfg.Host.TimeoutSeconds) * time.Second,
		Plugin:  cfg.BlueBubbles,
		Logger:  logger,
	})

	bridge := channel.NewBridge(channel.BridgeConfig{
		Host:      hostClient,
		NewClient: newBlueBubblesClient,
		Logger:    logger,
	})

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = serveMetrics(cfg.Metrics)
	}

	if err := bridge.Init(ctx); err != nil {
		// Handlers stay registered after a connection failure; anything
		// earlier leaves nothing to run.
		if !errors.Is(err, channel.ErrConnection) {
			bridge.Shutdown()
			shutdownMetrics(metricsSrv)
			return err
		}
	}

	logger.Info("bridge started. Press Ctrl+C to stop.", "version", version, "state", bridge.State().String())

	<-ctx.Done()
	logger.Info("shutting down bridge...")

	const shutdownTimeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		defer close(done)
		bridge.Shutdown()
		shutdownMetrics(metricsSrv)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func serveMetrics(cfg config.MetricsConfig) *http.Server {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Collector.Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics server starting", "listen", cfg.Listen, "path", path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "err", err)
		}
	}()
	return srv
}

func shutdownMetrics(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown", "err", err)
	}
}
