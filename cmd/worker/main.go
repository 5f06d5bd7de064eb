package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtr002/compute-queue/internal/broker"
	"github.com/mtr002/compute-queue/internal/config"
	"github.com/mtr002/compute-queue/internal/db"
	"github.com/mtr002/compute-queue/internal/grpc"
	"github.com/mtr002/compute-queue/internal/jobs"
	"github.com/mtr002/compute-queue/internal/logger"
	"github.com/mtr002/compute-queue/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("worker-service", "info")
		logger.Logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Init("worker-service", cfg.LogLevel)
	logger.Logger.Info().Msg("Starting Worker Service")

	if cfg.Database.URL == "" {
		logger.Logger.Fatal().Msg("DATABASE_URL is required for a standalone worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(db.Config{URL: cfg.Database.URL, MaxOpenConns: cfg.Database.MaxOpenConns})
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if cfg.Database.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	manager := jobs.NewManager(db.NewStore(database))

	var b broker.Broker
	if cfg.Broker.URL != "" {
		b, err = broker.Open(cfg.Broker.URL)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to create broker client")
		}
		defer b.Close()
	}

	rt, err := worker.NewRuntime(ctx, cfg, manager, b, nil)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to create worker")
	}

	lis, err := net.Listen("tcp", ":"+cfg.Worker.GRPCPort)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to listen")
	}
	healthServer := grpc.NewServer()
	go func() {
		if err := healthServer.Serve(lis); err != nil {
			logger.Logger.Error().Err(err).Msg("gRPC health server stopped")
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Worker.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Logger.Info().Str("port", cfg.Worker.MetricsPort).Msg("Metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	rt.Start(ctx)
	healthServer.SetServing(true)

	<-ctx.Done()
	logger.Logger.Info().Msg("Shutting down gracefully...")
	healthServer.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	rt.Stop(shutdownCtx)
	healthServer.Stop()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error().Err(err).Msg("Metrics server shutdown failed")
	}
	logger.Logger.Info().Msg("Worker Service stopped")
}
