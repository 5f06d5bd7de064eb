package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtr002/compute-queue/internal/api"
	"github.com/mtr002/compute-queue/internal/broker"
	"github.com/mtr002/compute-queue/internal/cache"
	"github.com/mtr002/compute-queue/internal/config"
	"github.com/mtr002/compute-queue/internal/db"
	"github.com/mtr002/compute-queue/internal/grpc"
	"github.com/mtr002/compute-queue/internal/interfaces"
	"github.com/mtr002/compute-queue/internal/jobs"
	"github.com/mtr002/compute-queue/internal/logger"
	"github.com/mtr002/compute-queue/internal/websocket"
	"github.com/mtr002/compute-queue/internal/worker"
)

const shutdownTimeout = 30 * time.Second

var errWorkerStopped = errors.New("embedded worker not running")

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("api-service", "info")
		logger.Logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Init("api-service", cfg.LogLevel)
	logger.Logger.Info().Bool("embedded_worker", cfg.EmbeddedWorker).Msg("Starting API service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store interfaces.JobStore
	if cfg.Database.URL != "" {
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
		store = db.NewStore(database)
	} else {
		if !cfg.EmbeddedWorker {
			logger.Logger.Warn().Msg("No DATABASE_URL and no embedded worker: submitted jobs will never be processed")
		}
		store = db.NewMemoryStore()
	}
	manager := jobs.NewManager(store)

	health := api.NewHealthChecker("api-service")
	health.Register("database", manager.Ping)

	var b broker.Broker
	switch {
	case cfg.Broker.URL != "":
		b, err = broker.Open(cfg.Broker.URL)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to create broker client")
		}
		defer b.Close()
		health.Register("broker", b.Ping)
	case cfg.EmbeddedWorker:
		b = broker.NewMemory()
	}

	hub := websocket.NewHub()
	go hub.Run(ctx)

	if b != nil {
		go func() {
			sub, err := websocket.RelayBroker(ctx, hub, b, cfg.Broker.Channel)
			if err != nil {
				logger.Logger.Error().Err(err).Msg("Broker relay unavailable, serving direct publishers only")
				return
			}
			<-ctx.Done()
			sub.Close()
		}()
	}

	var jobCache api.JobCache
	if cfg.Cache.RedisURL != "" {
		c, err := cache.New(cfg.Cache.RedisURL, cfg.Cache.JobTTL)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to create job cache")
		}
		defer c.Close()
		health.Register("cache", c.Ping)
		jobCache = c
	}

	if cfg.Worker.GRPCAddr != "" {
		client, err := grpc.NewClient(cfg.Worker.GRPCAddr)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to create worker health client")
		}
		defer client.Close()
		health.Register("worker_grpc", client.Check)
	}

	var rt *worker.Runtime
	if cfg.EmbeddedWorker {
		rt, err = worker.NewRuntime(ctx, cfg, manager, b, hub)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to create embedded worker")
		}
		rt.Start(ctx)
		health.Register("embedded_worker", func(context.Context) error {
			if !rt.Running() {
				return errWorkerStopped
			}
			return nil
		})
	}

	mux := http.NewServeMux()
	api.AddRoutes(mux, api.Deps{
		Manager: manager,
		Cache:   jobCache,
		Hub:     hub,
		Health:  health,

		PublishToken: cfg.Gateway.PublishToken,
	})

	server := api.NewServer(cfg.HTTP.Port, mux)
	go func() {
		if err := server.Start(); err != nil {
			logger.Logger.Error().Err(err).Msg("HTTP server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Logger.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if rt != nil {
		rt.Stop(shutdownCtx)
	}
	logger.Logger.Info().Msg("API service stopped")
}
