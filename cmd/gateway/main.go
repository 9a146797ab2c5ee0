package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/tendant/chi-demo/app"

	"github.com/tendant/upload-gateway/pkg/gateway/api"
	"github.com/tendant/upload-gateway/pkg/gateway/config"
	"github.com/tendant/upload-gateway/pkg/gateway/repo/postgres"
)

const serviceName = "upload-gateway"

func main() {
	envFile := os.Getenv("CONFIG_FILE")
	if envFile == "" {
		envFile = ".env"
	}

	cfg, err := config.Load(config.WithEnvFile(envFile), config.WithEnv())
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	httpLogger := httplog.NewLogger(serviceName, httplog.Options{
		JSON:     cfg.IsProduction(),
		LogLevel: slog.LevelInfo,
		Concise:  true,
	})
	logger := httpLogger.Logger
	slog.SetDefault(logger)

	if err := run(cfg, httpLogger); err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.ServerConfig, httpLogger *httplog.Logger) error {
	logger := httpLogger.Logger
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := config.NewPool(ctx, cfg.DB, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.DB.Migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("Database migrations applied")
	}

	store, err := cfg.NewObjectStore(ctx)
	if err != nil {
		return err
	}

	service, err := cfg.BuildService(store, cfg.NewRepository(pool, logger), logger)
	if err != nil {
		return err
	}

	filesHandler := api.NewFilesHandler(service,
		api.WithMaxUploadBytes(cfg.Upload.MaxBytes),
		api.WithLogger(logger),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(httpLogger))
	r.Use(middleware.Recoverer)

	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)
	r.Mount("/", filesHandler.Routes())

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", srv.Addr, "storage_driver", cfg.StorageDriver, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
