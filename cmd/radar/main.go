// Package main is the entry point for the cognitive load pipeline service.
//
// The service ingests behavioral telemetry over HTTP, buffers it per
// session in Redis with an in-memory fallback, periodically aggregates each
// buffer into a composite cognitive load score, persists the scored windows
// in PostgreSQL, and pushes throttled live updates to websocket
// subscribers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/learnpulse/clr-hub/config"
	"github.com/learnpulse/clr-hub/internal/aggregator"
	"github.com/learnpulse/clr-hub/internal/buffer"
	"github.com/learnpulse/clr-hub/internal/distributor"
	"github.com/learnpulse/clr-hub/internal/domain/scoring"
	"github.com/learnpulse/clr-hub/internal/infrastructure/messaging"
	"github.com/learnpulse/clr-hub/internal/infrastructure/persistence/postgres"
	redisinfra "github.com/learnpulse/clr-hub/internal/infrastructure/persistence/redis"
	"github.com/learnpulse/clr-hub/internal/intake"
	httpiface "github.com/learnpulse/clr-hub/internal/interface/http"
	"github.com/learnpulse/clr-hub/internal/writer"
	"github.com/learnpulse/clr-hub/pkg/circuitbreaker"
	"github.com/learnpulse/clr-hub/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOpts := logger.DefaultOptions()
	logOpts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	log := logger.New(logOpts)

	log.Info("starting cognitive load pipeline",
		logger.String("version", cfg.App.Version),
		logger.String("environment", string(cfg.App.Environment)),
		logger.String("timezone", cfg.App.Timezone))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. PostgreSQL: pool + migrations
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to PostgreSQL...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer dbConn.Close()

	if err := postgres.NewMigrator(dbConn).Migrate(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("database schema is up to date")

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Redis: event queue, score history, pub/sub relay
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to Redis...")
	redisCfg := redisinfra.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

	redisClient, err := redisinfra.NewClient(redisCfg)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer redisClient.Close()

	eventQueue := redisinfra.NewEventQueue(redisClient)
	scoreHistory := redisinfra.NewScoreHistory(redisClient)

	relay := messaging.NewRelay(redisClient, log, nil)
	relay.Start(ctx)
	defer relay.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Metrics registry
	// ─────────────────────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. Pipeline components
	// ─────────────────────────────────────────────────────────────────────────
	breaker := circuitbreaker.EventStoreBreaker(func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.BreakerState(to.String()))
	})

	bufCfg := buffer.DefaultConfig()
	bufCfg.FallbackCapacity = cfg.Buffer.FallbackCapacity
	bufCfg.OpTimeout = cfg.Buffer.OpTimeout
	durableBuffer := buffer.New(eventQueue, breaker, bufCfg, log)

	fallbackDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "clr",
		Subsystem: "buffer",
		Name:      "fallback_depth",
		Help:      "Events parked in the in-memory fallback queue.",
	}, func() float64 { return float64(durableBuffer.FallbackDepth()) })
	registry.MustRegister(fallbackDepth)

	limiter := intake.NewRateLimiter(cfg.Intake.RateLimitPerSecond, time.Second, nil)
	gateway := intake.New(durableBuffer, limiter, intake.NewMetrics(registry), log, nil)

	recordRepo := postgres.NewRecordRepo(dbConn)
	sessionRepo := postgres.NewSessionRepo(dbConn)
	persistWriter := writer.New(recordRepo, sessionRepo, scoreHistory, nil, log)

	distCfg := distributor.DefaultConfig()
	distCfg.MinSpacing = cfg.Distributor.MinSpacing
	distCfg.WriteTimeout = cfg.Distributor.WriteTimeout
	dist := distributor.New(distCfg, distributor.NewMetrics(registry), log, nil)

	aggCfg := aggregator.DefaultConfig()
	aggCfg.Interval = cfg.Aggregator.Interval
	aggCfg.MaxBatch = cfg.Aggregator.MaxBatch
	aggCfg.Location = cfg.App.Location

	agg := aggregator.New(
		durableBuffer,
		eventQueue,
		scoreHistory,
		relay,
		persistWriter,
		fanout{dist: dist, relay: relay, log: log},
		aggCfg,
		aggregator.NewMetrics(registry),
		log,
		nil,
	)
	agg.Start(ctx)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP server
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpiface.DefaultConfig()
	serverCfg.Host = cfg.Server.Host
	serverCfg.Port = cfg.Server.Port
	serverCfg.ReadTimeout = cfg.Server.ReadTimeout
	serverCfg.WriteTimeout = cfg.Server.WriteTimeout
	serverCfg.IdleTimeout = cfg.Server.IdleTimeout
	serverCfg.AllowedOrigins = cfg.Server.AllowedOrigins
	serverCfg.EnableMetrics = cfg.Server.EnableMetrics

	server := httpiface.NewServer(serverCfg, httpiface.Dependencies{
		Gateway:         gateway,
		Sessions:        sessionRepo,
		Flush:           eventQueue,
		Pending:         durableBuffer,
		Sweeps:          agg,
		History:         scoreHistory,
		Registry:        dist,
		EventStore:      redisClient,
		RelationalStore: dbConn,
		Gatherer:        registry,
		Logger:          log,
	})

	serverErr := server.StartAsync()

	log.Info("cognitive load pipeline is running",
		logger.String("address", serverCfg.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 7. Graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error("http server failed", logger.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	// Stop intake first so the final sweep sees a quiescent buffer.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", logger.Err(err))
	}

	// Stops the timer, waits for the in-flight tick, runs one final sweep.
	agg.Stop(shutdownCtx)

	log.Info("shutdown complete")
	return nil
}

// fanout distributes a scored window to live subscribers and announces it
// on the pub/sub channel.
type fanout struct {
	dist  *distributor.Distributor
	relay *messaging.Relay
	log   *logger.Logger
}

func (f fanout) Publish(result scoring.Result) {
	f.dist.Publish(result)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.relay.PublishResult(ctx, result); err != nil {
		f.log.Warn("score announcement failed",
			logger.SessionID(result.SessionID),
			logger.Err(err))
	}
}
