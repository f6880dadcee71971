// Package main is the entry point for the fiscal API server.
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

	"github.com/prometheus/client_golang/prometheus"

	"shopfiscal/internal/app"
	"shopfiscal/internal/config"
	"shopfiscal/internal/domain/auth"
	v1 "shopfiscal/internal/infrastructure/http/v1"
	"shopfiscal/internal/infrastructure/metrics"
	"shopfiscal/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Infow("starting shopfiscal server", "env", cfg.AppEnv, "storage", cfg.StorageDriver)

	tunables, err := config.LoadTunables(ctx, cfg.TunablesPath)
	if err != nil {
		log.Fatalw("failed to load fiscal config", "error", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	engine, release, err := app.Open(ctx, cfg, app.Options{Tunables: tunables, Metrics: m})
	if err != nil {
		log.Fatalw("failed to open fiscal engine", "error", err)
	}
	defer release()
	engine.Start(ctx)
	defer engine.Close()

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		log.Warn("JWT_SECRET not set; using the development secret")
		jwtSecret = "dev-secret-change-me"
	}
	jwtService := auth.NewJWTService(auth.DefaultJWTConfig(jwtSecret))

	router := v1.NewRouter(v1.RouterConfig{
		Engine:       engine,
		Logger:       log,
		JWTValidator: jwtService,
		Metrics:      m,
		Gatherer:     prometheus.DefaultGatherer,
		Debug:        cfg.IsDevelopment(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
