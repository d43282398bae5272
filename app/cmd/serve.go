package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"umlgen/app/config"
	"umlgen/app/usecase"
	"umlgen/internal/infrastructure/metrics"
	"umlgen/internal/infrastructure/transport"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background run worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *rootOptions) error {
	// logger
	logger, err := newLogger(os.Stdout, opts.logLevel)
	if err != nil {
		return err
	}

	// load config
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := wireApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("wiring failed", "err", err)
		return err
	}

	var worker *usecase.RunWorker
	if cfg.Worker.Enabled {
		worker = usecase.NewRunWorker(a.runsRepo, a.pipeline, cfg.Worker.PollInterval, cfg.Worker.RunTimeout, logger)
		worker.Start(ctx) // background worker
	}

	// Transport (HTTP handlers)
	handler := transport.NewUMLHandler(a.pipeline, a.runs, a.hub, transport.Options{
		OutputDir: a.store.BaseDir(),
		URLPrefix: cfg.Storage.URLPrefix,
	}, logger)

	// Router and server
	r := mux.NewRouter()
	handler.RegisterRoutes(r)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError)),
	)
	corsHandler := handlers.CORS(
		handlers.AllowedOrigins(cfg.Server.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(recovery(r))

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      corsHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Server.MetricsAddr != "" {
		go func() {
			logger.Info("starting metrics server", "addr", cfg.Server.MetricsAddr)
			if err := metrics.StartMetricsServer(cfg.Server.MetricsAddr); err != nil {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	// Start HTTP server
	go func() {
		logger.Info("starting HTTP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
			cancel()
		}
	}()

	// OS signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	// Shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}

	cancel()
	if worker != nil {
		worker.Stop()
	}

	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("close error", "err", err)
	}

	logger.Info("service stopped")
	return nil
}
