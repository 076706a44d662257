// Command gateway starts the API gateway service.
//
// The gateway is the single entry point for external clients. It authenticates
// requests via API keys (SHA-256 validated against PostgreSQL), applies
// per-key rate limiting, and translates /index, /search, /configure into RPC
// calls against the primary shard and its replica, serving reads through a
// shared Redis query cache and emitting analytics events to Kafka.
//
// Usage:
//
//	go run ./cmd/gateway [-config configs/development.yaml]
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

	"github.com/distshard/shardcore/internal/analytics/collector"
	"github.com/distshard/shardcore/internal/auth/apikey"
	"github.com/distshard/shardcore/internal/auth/ratelimit"
	gwhandler "github.com/distshard/shardcore/internal/gateway/handler"
	"github.com/distshard/shardcore/internal/gateway/router"
	"github.com/distshard/shardcore/internal/searcher/cache"
	"github.com/distshard/shardcore/pkg/config"
	"github.com/distshard/shardcore/pkg/kafka"
	"github.com/distshard/shardcore/pkg/logger"
	"github.com/distshard/shardcore/pkg/postgres"
	"github.com/distshard/shardcore/pkg/redis"
)

const analyticsBatchSize = 100
const analyticsFlushInterval = 5 * time.Second

// main initialises PostgreSQL, the API-key validator, the rate limiter, the
// gateway handler + router middleware chain, and starts the HTTP server.
// Graceful shutdown is triggered by SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting gateway service",
		"port", cfg.Gateway.Port,
		"primary_addr", cfg.Gateway.PrimaryAddr,
		"replica_addr", cfg.Gateway.ReplicaAddr,
	)

	// PostgreSQL — used only for API key validation.
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgres")

	// Auth + rate limiting.
	validator := apikey.NewValidator(db)
	limiter := ratelimit.New(time.Minute)

	// Query cache: shared with the shard, which invalidates it on every write.
	var queryCache *cache.QueryCache
	if rdb, err := redis.NewClient(cfg.Redis); err != nil {
		slog.Warn("redis unavailable, search cache disabled", "error", err)
	} else {
		defer rdb.Close()
		queryCache = cache.New(rdb, cfg.Redis)
	}

	// Analytics: batches index/search events onto the platform's Kafka topic.
	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer analyticsProducer.Close()
	analyticsCollector := collector.NewBatchCollector(analyticsProducer, analyticsBatchSize, analyticsFlushInterval)

	// Gateway handler → router with full middleware chain.
	h, err := gwhandler.New(cfg.Gateway.PrimaryAddr, cfg.Gateway.ReplicaAddr, queryCache, analyticsCollector)
	if err != nil {
		slog.Error("failed to dial primary shard", "error", err)
		os.Exit(1)
	}

	chain := router.New(h, validator, limiter)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	analyticsCollector.Start(ctx)

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("gateway service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway service stopped")
}
