// Command ingestion drains the document-ingest Kafka topic into the primary
// shard.
//
// It consumes batches of {id, content} documents, resolves and validates
// each id against the shard's wire format, and calls the primary shard's
// Index RPC. A liveness/readiness HTTP server runs alongside the consumer
// loop for Kubernetes probes.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
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

	"github.com/distshard/shardcore/internal/ingestion/handler"
	"github.com/distshard/shardcore/internal/ingestion/publisher"
	"github.com/distshard/shardcore/pkg/config"
	"github.com/distshard/shardcore/pkg/grpc"
	"github.com/distshard/shardcore/pkg/health"
	"github.com/distshard/shardcore/pkg/kafka"
	"github.com/distshard/shardcore/pkg/logger"
	"github.com/distshard/shardcore/pkg/proto"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion service", "topic", cfg.Kafka.Topics.DocumentIngest)

	primary, err := grpc.Dial(cfg.Gateway.PrimaryAddr)
	if err != nil {
		slog.Error("failed to dial primary shard", "error", err)
		os.Exit(1)
	}
	defer primary.Close()
	slog.Info("connected to primary shard", "addr", cfg.Gateway.PrimaryAddr)

	pub := publisher.New(primary)
	h := handler.New(pub)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest, h.Handle)

	checker := health.NewChecker()
	checker.Register("primary-shard", func(ctx context.Context) health.ComponentHealth {
		var resp proto.ShardStatsResponse
		if err := primary.Call("Shard.Stats", &proto.ShardStatsRequest{}, &resp); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("consumer stopped with error", "error", err)
		}
	}()

	go func() {
		slog.Info("ingestion health server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}
	slog.Info("ingestion service stopped")
}
