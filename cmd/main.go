/**
 * @description
 * This is the main entry point for the crypto-ledger-service. It loads configuration,
 * connects to PostgreSQL, RabbitMQ and (optionally) Redis, wires the transaction
 * submitter and the reconciliation scheduler, starts the scheduler and serves the HTTP
 * API until SIGINT/SIGTERM.
 *
 * @dependencies
 * - github.com/joho/godotenv: loads .env files during local development.
 * - github.com/prometheus/client_golang: metrics registry and /metrics handler.
 * - go.uber.org/zap: structured logging.
 * - internal/api, internal/bootstrap, internal/config: service packages.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/transfa/crypto-ledger-service/internal/api"
	"github.com/transfa/crypto-ledger-service/internal/bootstrap"
	"github.com/transfa/crypto-ledger-service/internal/config"
)

func main() {
	// Missing .env is expected outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	logger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"logger init failed\" err=%v", err)
	}
	defer func() { _ = logger.Sync() }()
	bootstrap.LogConfigWarnings(logger, cfg)

	if cfg.InternalAPIKey == "" && cfg.OperatorJWTSecret == "" {
		if cfg.IsProduction() {
			logger.Fatal("internal api key must be configured in production", zap.String("env", "INTERNAL_API_KEY"))
		}
		logger.Warn("internal api key not configured; api is unauthenticated")
	}

	logger.Info("starting crypto-ledger-service",
		zap.String("env", cfg.AppEnv),
		zap.String("port", cfg.ServerPort),
		zap.String("bitcoin_network", cfg.BitcoinNetwork),
		zap.Bool("simulation_mode", cfg.LedgerSimulationMode),
	)

	ctx := context.Background()

	dbpool, err := bootstrap.OpenDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("database setup failed", zap.Error(err))
	}
	defer dbpool.Close()

	events := bootstrap.ConnectEventBus(cfg, logger)
	defer events.Close()

	state, closeState := bootstrap.ConnectStateStore(ctx, cfg, logger)
	defer closeState()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	services, err := bootstrap.NewServices(cfg, dbpool, events, state, registry, logger)
	if err != nil {
		logger.Fatal("service wiring failed", zap.Error(err))
	}

	if err := services.Scheduler.Start(); err != nil {
		logger.Fatal("reconciliation scheduler failed to start", zap.Error(err))
	}
	logger.Info("reconciliation scheduler started",
		zap.Duration("tick_interval", cfg.ReconcileTickInterval),
		zap.Int("max_retries", cfg.ReconcileMaxRetries),
	)

	handlers := api.NewHandlers(services.Submitter, services.Repository, services.Ledger, services.Scheduler, logger)
	router := api.NewRouter(handlers, api.RouterOptions{
		InternalAPIKey:    cfg.InternalAPIKey,
		OperatorJWTSecret: cfg.OperatorJWTSecret,
		AllowedOrigins:    cfg.CORSAllowedOrigins,
		Metrics:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}

	// Wait for an in-flight tick to finish before closing the pool under it.
	<-services.Scheduler.Stop().Done()
	logger.Info("shutdown complete")
}
