// Command gatewayd runs the OpenAI-compatible dispatch engine: it loads
// a provider pool from a hot-reloadable YAML config, wires the
// Dispatcher and HTTP surface together, and serves until signaled to
// stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/llmgateway/dispatch/internal/dispatcher"
	"github.com/llmgateway/dispatch/internal/gwconfig"
	"github.com/llmgateway/dispatch/internal/healthcheck"
	"github.com/llmgateway/dispatch/internal/httpapi"
	"github.com/llmgateway/dispatch/internal/otelspan"
	"github.com/llmgateway/dispatch/internal/provider"
	"github.com/llmgateway/dispatch/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	}))
	slog.SetDefault(logger)

	cfgManager, err := gwconfig.NewManager(*configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := level.UnmarshalText([]byte(cfgManager.Get().Logging.Level)); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfgManager.Watch(ctx); err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	defer cfgManager.Close()

	transport := provider.NewTransport()
	bulk, stream := provider.NewClients(transport)
	client := provider.NewClient(bulk, stream)

	tracer := otelspan.New(nil)
	d := dispatcher.New(cfgManager.Get, tracer, logger)

	handler := httpapi.NewHandler(d, client, cfgManager.Get, telemetry.NopSink{}, logger)
	health := httpapi.NewHealthHandler(cfgManager)

	cfg := cfgManager.Get()

	prober := healthcheck.NewProber(cfg.HealthCheck, cfgManager.Get, client, logger)
	prober.Start(ctx)
	mux := httpapi.NewMux(handler, health, cfg.Metrics.Enabled, cfg.Metrics.Path)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses can run far longer than any fixed write budget
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("dispatch engine listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	var adminServer *http.Server
	adminErr := make(chan error, 1)
	if cfg.Server.AdminPort != 0 {
		adminMux := httpapi.AdminMux(health, cfg.Metrics.Path)
		adminServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.AdminPort),
			Handler:      adminMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info("admin surface listening", "port", cfg.Server.AdminPort)
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				adminErr <- err
			}
			close(adminErr)
		}()
	} else {
		close(adminErr)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case err := <-adminErr:
		if err != nil {
			return fmt.Errorf("admin server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown error", "error", err)
		}
	}

	logger.Info("dispatch engine stopped")
	return nil
}
