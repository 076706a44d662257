package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/distshard/shardcore/internal/shard"
	"github.com/distshard/shardcore/internal/shard/registry"
	"github.com/distshard/shardcore/internal/shard/scheduler"
	"github.com/distshard/shardcore/internal/shard/store"
	"github.com/distshard/shardcore/internal/searcher/cache"
	"github.com/distshard/shardcore/pkg/config"
	"github.com/distshard/shardcore/pkg/grpc"
	"github.com/distshard/shardcore/pkg/kv"
	"github.com/distshard/shardcore/pkg/logger"
	"github.com/distshard/shardcore/pkg/metrics"
	"github.com/distshard/shardcore/pkg/proto"
	"github.com/distshard/shardcore/pkg/redis"
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
	slog.Info("starting shard service", "name", cfg.Runtime.Name, "addr", cfg.Runtime.ListenAddr)

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		slog.Error("creating data dir failed", "dir", cfg.Runtime.DataDir, "error", err)
		os.Exit(1)
	}

	mode := store.ModeString
	if cfg.Shard.IDType == config.IDTypeInteger {
		mode = store.ModeInteger
	}
	st, err := store.Open(filepath.Join(cfg.Runtime.DataDir, "documents.db"), mode)
	if err != nil {
		slog.Error("opening store failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	kvStore, err := kv.Open(filepath.Join(cfg.Runtime.DataDir, "state.bolt"))
	if err != nil {
		slog.Error("opening kv store failed", "error", err)
		os.Exit(1)
	}
	defer kvStore.Close()

	m := metrics.New()
	reg := registry.NewRPC(cfg.Runtime.PeerAddrs, cfg.Shard.ColdShardPrefix)

	shardInstance := shard.New(cfg.Runtime.Name, st, kvStore, reg, m)

	sched := scheduler.New(shardInstance.Tick, logger.WithComponent("scheduler").With("shard", cfg.Runtime.Name))
	shardInstance.SetOnArmScheduler(sched.ArmIfNeeded)
	if shardInstance.State() != shard.StateFresh {
		sched.ArmIfNeeded()
	}

	if rdb, err := redis.NewClient(cfg.Redis); err != nil {
		slog.Warn("redis unavailable, cache invalidation disabled", "error", err)
	} else {
		defer rdb.Close()
		queryCache := cache.New(rdb, cfg.Redis)
		shardInstance.SetCacheInvalidate(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := queryCache.Invalidate(ctx); err != nil {
				slog.Warn("cache invalidation failed", "error", err)
			}
		})
	}

	server := grpc.NewServer()
	registerHandlers(server, shardInstance)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := server.Serve(cfg.Runtime.ListenAddr); err != nil {
			slog.Error("rpc server stopped with error", "error", err)
		}
	}()

	slog.Info("shard service ready", "addr", cfg.Runtime.ListenAddr)
	<-ctx.Done()

	slog.Info("shutting down shard service")
	sched.Stop()
	server.Stop()
	slog.Info("shard service stopped")
}

func registerHandlers(server *grpc.Server, s *shard.Shard) {
	server.Register("Shard.Index", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.ShardIndexRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding Shard.Index request: %w", err)
		}
		docs := fromWireDocuments(req.Documents)
		accepted, err := s.Index(ctx, docs)
		if err != nil {
			return nil, err
		}
		return proto.ShardIndexResponse{Accepted: accepted}, nil
	})

	server.Register("Shard.Sync", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.ShardSyncRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding Shard.Sync request: %w", err)
		}
		docs := fromWireDocuments(req.Documents)
		applied, err := s.Sync(ctx, docs, req.UpToRowid)
		if err != nil {
			return nil, err
		}
		return proto.ShardSyncResponse{Applied: applied}, nil
	})

	server.Register("Shard.Search", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.ShardSearchRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding Shard.Search request: %w", err)
		}
		resp, err := s.Search(ctx, shard.SearchRequest{Query: req.Query, IncludeCold: req.IncludeCold, Max: req.Max})
		if err != nil {
			return nil, err
		}
		wireHits := make([]proto.ShardHit, len(resp.Hits))
		for i, h := range resp.Hits {
			wireHits[i] = proto.ShardHit{ID: h.ID, Content: h.Content, Rank: h.Rank}
		}
		return proto.ShardSearchResponse{Hits: wireHits}, nil
	})

	server.Register("Shard.Stats", func(ctx context.Context, raw json.RawMessage) (any, error) {
		resp, err := s.Stats(ctx)
		if err != nil {
			return nil, err
		}
		return proto.ShardStatsResponse{Count: resp.Count, Bytes: resp.Bytes, ReadOnly: resp.ReadOnly}, nil
	})

	server.Register("Shard.Configure", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.ShardConfigureRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding Shard.Configure request: %w", err)
		}
		patch := registry.PatchFromConfigureRequest(req)
		if err := s.Configure(ctx, patch); err != nil {
			return nil, err
		}
		return proto.ShardConfigureResponse{}, nil
	})
}

func fromWireDocuments(docs []proto.ShardDocument) []shard.Document {
	out := make([]shard.Document, len(docs))
	for i, d := range docs {
		out[i] = shard.Document{ID: d.ID, IntID: d.IntID, Content: d.Content}
	}
	return out
}

