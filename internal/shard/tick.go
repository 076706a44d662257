package shard

import (
	"context"
	"strconv"
	"time"

	"github.com/distshard/shardcore/internal/shard/lifecycle"
	"github.com/distshard/shardcore/internal/shard/replicator"
	"github.com/distshard/shardcore/internal/shard/router"
	"github.com/distshard/shardcore/pkg/config"
	"github.com/distshard/shardcore/pkg/resilience"
)

// scanLimit is the practical stand-in for the "scan since cursor, no limit"
// the replicator algorithm calls for; a shard accumulates at most this many
// unsynced rows between ticks under any sane tick interval.
const scanLimit = 1_000_000

// replicaSyncRetry bounds how many times a single replica Sync attempt is
// retried within one tick before that replica's outcome counts as failed.
var replicaSyncRetry = resilience.RetryConfig{MaxAttempts: 3}

// Tick runs one scheduler pass: replicate new rows to every configured
// replica, then run one lifecycle step, and report the interval to rearm
// at. It satisfies scheduler.TickFunc. Per the concurrency model, the
// shard's mutex is held only long enough to snapshot config and persist
// results — it is never held while awaiting a peer over the network.
func (s *Shard) Tick(ctx context.Context) (readOnly bool, interval time.Duration) {
	s.mu.Lock()
	if s.state == StateReadOnly {
		s.mu.Unlock()
		return true, 0
	}
	replicas := append([]config.ReplicaDescriptor(nil), s.cfg.Replicas...)
	ms := s.cfg.TickIntervalMs
	s.mu.Unlock()

	if len(replicas) > 0 {
		s.stepReplicator(ctx, replicas)
	}
	s.stepLifecycle(ctx)

	if ms <= 0 {
		ms = config.DefaultTickIntervalMs
	}
	return false, time.Duration(ms) * time.Millisecond
}

func (s *Shard) stepReplicator(ctx context.Context, replicas []config.ReplicaDescriptor) {
	targets := make([]replicator.Target, 0, len(replicas))
	for _, desc := range replicas {
		desc := desc
		client, err := s.registry.Resolve(desc)
		if err != nil {
			s.logger.Warn("resolving replica failed", "replica", desc.Key(), "error", err)
			continue
		}
		peer := desc.Key()
		breaker := s.breakerFor(peer)
		targets = append(targets, replicator.Target{
			Name: peer,
			Sync: func(ctx context.Context, rows []replicator.Row) (int, error) {
				docs := make([]Document, len(rows))
				for i, r := range rows {
					docs[i] = Document{ID: r.ID, IntID: r.IntID, Content: r.Content}
				}
				var applied int
				err := breaker.Execute(func() error {
					return resilience.Retry(ctx, "replicate:"+peer, replicaSyncRetry, func() error {
						n, err := client.Sync(ctx, docs, maxRowidOf(rows))
						applied = n
						return err
					})
				})
				return applied, err
			},
		})
	}

	cursor := s.LastSyncedRowid()
	scan := func(cursor int64) ([]replicator.Row, error) {
		rows, err := s.store.ScanSince(ctx, cursor, scanLimit)
		if err != nil {
			return nil, err
		}
		out := make([]replicator.Row, len(rows))
		for i, r := range rows {
			out[i] = replicator.Row{Rowid: r.Rowid, ID: r.ID, Content: r.Content}
		}
		return out, nil
	}

	result, err := replicator.Step(ctx, scan, cursor, targets, s.logger)
	if err != nil {
		s.logger.Error("replicator step failed", "error", err)
		return
	}
	for _, o := range result.Outcomes {
		outcome := "ok"
		if o.Err != nil {
			outcome = "failed"
		}
		if s.metrics != nil {
			s.metrics.ShardReplicaSyncs.WithLabelValues(s.name, o.Target, outcome).Inc()
		}
	}
	if result.NewCursor != cursor {
		if err := s.SetLastSyncedRowid(result.NewCursor); err != nil {
			s.logger.Error("persisting replication cursor failed", "error", err)
		}
	}
}

func maxRowidOf(rows []replicator.Row) int64 {
	var max int64
	for _, r := range rows {
		if r.Rowid > max {
			max = r.Rowid
		}
	}
	return max
}

func (s *Shard) stepLifecycle(ctx context.Context) {
	count, bytes, err := s.store.CountAndBytes(ctx)
	if err != nil {
		s.logger.Error("lifecycle: reading store stats failed", "error", err)
		return
	}

	cfg := s.Config()

	params := lifecycle.Params{
		Count:               count,
		Bytes:               bytes,
		PurgeCountThreshold: cfg.PurgeCountThreshold,
		PurgeTargetCount:    cfg.PurgeTargetCount,
		SizeThresholdBytes:  cfg.SizeThresholdBytes,
		ColdShardCapacity:   cfg.ColdShardCapacity,
		CurrentColdIndex:    cfg.CurrentColdIndex,
		FetchOldest: func(ctx context.Context, n int64) ([]lifecycle.Row, error) {
			rows, err := s.store.ScanSince(ctx, 0, int(n))
			if err != nil {
				return nil, err
			}
			out := make([]lifecycle.Row, len(rows))
			for i, r := range rows {
				out[i] = lifecycle.Row{Rowid: r.Rowid, ID: r.ID, Content: r.Content}
			}
			return out, nil
		},
		AddressCold: func(index int) (lifecycle.ColdStub, error) {
			client, err := s.registry.ResolveCold(index)
			if err != nil {
				return lifecycle.ColdStub{}, err
			}
			name := coldShardName(cfg.ColdShardPrefix, index)
			breaker := s.breakerFor(name)
			return lifecycle.ColdStub{
				Name: name,
				Stats: func(ctx context.Context) (int64, error) {
					var stats StatsResponse
					err := breaker.Execute(func() error {
						r, err := client.Stats(ctx)
						stats = r
						return err
					})
					return stats.Count, err
				},
				Index: func(ctx context.Context, rows []lifecycle.Row) (int, error) {
					docs := make([]Document, len(rows))
					for i, r := range rows {
						docs[i] = Document{ID: r.ID, IntID: r.IntID, Content: r.Content}
					}
					var n int
					err := breaker.Execute(func() error {
						applied, err := client.Index(ctx, docs)
						n = applied
						return err
					})
					return n, err
				},
				MarkReadOnly: func(ctx context.Context) error {
					return breaker.Execute(func() error {
						return client.Configure(ctx, config.ShardConfig{ReadOnly: true})
					})
				},
			}, nil
		},
		DeleteUpTo: func(ctx context.Context, rowid int64) (int64, error) {
			return s.store.DeleteByRowidUpTo(ctx, rowid)
		},
		PersistColdIndex: func(index int) error {
			s.mu.Lock()
			s.cfg.CurrentColdIndex = index
			err := s.persistConfigLocked()
			s.mu.Unlock()
			if err != nil {
				return err
			}
			return s.SetCurrentColdIndex(index)
		},
	}

	result, err := lifecycle.Step(ctx, params, s.logger)
	if err != nil {
		s.logger.Error("lifecycle step failed", "error", err)
		return
	}
	if s.metrics != nil {
		for coldName, n := range result.ColdShardsUsed {
			s.metrics.ColdMigrationsTotal.WithLabelValues(s.name, coldName).Add(float64(n))
		}
	}
}

func coldShardName(prefix string, index int) string {
	return prefix + "-" + strconv.Itoa(index)
}

// coldSearch resolves every cold shard up to coldCount and fans the query
// out to them via the router package, converting between shard.Hit and
// router.Hit at the boundary. It is installed as the shard's
// coldSearchFunc at construction time. Each cold shard's RPC runs behind its
// own circuit breaker, so a wedged cold shard fails fast instead of stalling
// the search's soft deadline.
func (s *Shard) coldSearch(ctx context.Context, query string, max int, coldCount int) []Hit {
	prefix := s.Config().ColdShardPrefix
	shards := make([]router.ColdShard, 0, coldCount)
	for i := 0; i < coldCount; i++ {
		i := i
		client, err := s.registry.ResolveCold(i)
		if err != nil {
			s.logger.Warn("resolving cold shard for search failed", "index", i, "error", err)
			continue
		}
		name := coldShardName(prefix, i)
		breaker := s.breakerFor(name)
		shards = append(shards, router.ColdShard{
			Name: name,
			Search: func(ctx context.Context, query string, max int) ([]router.Hit, error) {
				var hits []router.Hit
				err := breaker.Execute(func() error {
					resp, err := client.Search(ctx, SearchRequest{Query: query, IncludeCold: false, Max: max})
					if err != nil {
						return err
					}
					hits = make([]router.Hit, len(resp.Hits))
					for j, h := range resp.Hits {
						hits[j] = router.Hit{ID: h.ID, Content: h.Content, Rank: h.Rank}
					}
					return nil
				})
				return hits, err
			},
		})
	}

	routerHits := router.FanOut(ctx, query, max, shards, s.logger)
	out := make([]Hit, len(routerHits))
	for i, h := range routerHits {
		out[i] = Hit{ID: h.ID, Content: h.Content, Rank: h.Rank}
	}
	return out
}
