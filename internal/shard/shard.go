package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/distshard/shardcore/internal/shard/contentfilter"
	"github.com/distshard/shardcore/internal/shard/queryplanner"
	"github.com/distshard/shardcore/internal/shard/store"
	"github.com/distshard/shardcore/pkg/config"
	appErrors "github.com/distshard/shardcore/pkg/errors"
	"github.com/distshard/shardcore/pkg/kv"
	"github.com/distshard/shardcore/pkg/logger"
	"github.com/distshard/shardcore/pkg/metrics"
	"github.com/distshard/shardcore/pkg/resilience"
)

const (
	kvKeyConfig          = "config"
	kvKeyLastSyncedRowid = "lastSyncedRowid"
	kvKeyCurrentColdIdx  = "currentColdIndex"
	kvKeyDBVersion       = "db_version"

	currentSchemaVersion = 1

	searchSoftDeadline = 5 * time.Second
)

// Shard is the single logical process that owns an FTS store and plays four
// tightly coupled roles: indexer, query engine, replicator, and lifecycle
// manager. Every RPC handler, scheduler tick, validation pass, and store
// access runs while mu is held — the shard is a single-writer actor.
type Shard struct {
	name     string
	mu       sync.Mutex
	store    *store.Store
	kv       *kv.Store
	registry Registry

	cfg   config.ShardConfig
	state State

	cacheInvalidate func()
	onArmScheduler  func()
	coldSearchFn    coldSearchFunc

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// coldSearchFunc, when installed via SetColdSearchFunc, fans out a
// local-only search (includeCold=false) to every current cold shard and
// returns their merged, ranked hits. It is a function type rather than a
// direct dependency on the router package to avoid an import cycle between
// shard and router.
type coldSearchFunc func(ctx context.Context, query string, max int, coldCount int) []Hit

// New constructs a Shard named name over an already-open store and kv
// handle. reg is the capability used to reach other shards and m is the
// metrics sink. The cache-invalidate side channel and the scheduler-arming
// hook are not parameters; they are installed afterwards with
// SetCacheInvalidate and SetOnArmScheduler. Any persisted config and cursor state is loaded from kv immediately.
func New(name string, st *store.Store, kvStore *kv.Store, reg Registry, m *metrics.Metrics) *Shard {
	s := &Shard{
		name:     name,
		store:    st,
		kv:       kvStore,
		registry: reg,
		state:    StateFresh,
		breakers: make(map[string]*resilience.CircuitBreaker),
		metrics:  m,
		logger:   logger.WithComponent("shard").With("shard", name),
	}
	s.loadPersistedState()
	s.coldSearchFn = s.coldSearch
	return s
}

// SetCacheInvalidate installs the fire-and-forget cache-invalidate side
// channel called after every committed Index or Sync.
func (s *Shard) SetCacheInvalidate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheInvalidate = fn
}

// SetOnArmScheduler installs the callback invoked the first time this shard
// transitions out of Fresh.
func (s *Shard) SetOnArmScheduler(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onArmScheduler = fn
}

func (s *Shard) loadPersistedState() {
	if raw, err := s.kv.Get(kvKeyDBVersion); err == nil && raw != nil {
		if v, err := strconv.Atoi(string(raw)); err == nil && v > currentSchemaVersion {
			s.logger.Error("refusing to open higher schema version", "version", v)
			s.state = StateReadOnly
			return
		}
	}

	raw, err := s.kv.Get(kvKeyConfig)
	if err != nil {
		s.logger.Error("reading persisted config", "error", err)
		return
	}
	if raw == nil {
		return
	}
	var cfg config.ShardConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		// ConfigCorruption: treat as empty config, log, keep accepting writes.
		s.logger.Error("persisted config corrupted, continuing with empty config", "error", err)
		return
	}
	cfg.Normalize()
	s.cfg = cfg
	if cfg.ReadOnly {
		s.state = StateReadOnly
	} else {
		s.state = StateActive
	}
}

func (s *Shard) persistConfigLocked() error {
	raw, err := json.Marshal(s.cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := s.kv.Put(kvKeyConfig, raw); err != nil {
		return err
	}
	return s.kv.Put(kvKeyDBVersion, []byte(strconv.Itoa(currentSchemaVersion)))
}

// LastSyncedRowid returns the replicator's persisted cursor.
func (s *Shard) LastSyncedRowid() int64 {
	raw, err := s.kv.Get(kvKeyLastSyncedRowid)
	if err != nil || raw == nil {
		return 0
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// SetLastSyncedRowid durably persists the replicator's cursor. Per the
// design note on persisted counters, this is an independent key/value
// write, not part of a larger transaction.
func (s *Shard) SetLastSyncedRowid(v int64) error {
	return s.kv.Put(kvKeyLastSyncedRowid, []byte(strconv.FormatInt(v, 10)))
}

// CurrentColdIndex returns the lifecycle manager's persisted cold-shard
// write cursor.
func (s *Shard) CurrentColdIndex() int {
	raw, err := s.kv.Get(kvKeyCurrentColdIdx)
	if err != nil || raw == nil {
		return 0
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0
	}
	return v
}

// SetCurrentColdIndex durably persists the lifecycle manager's cold-shard
// write cursor, independently of any other key.
func (s *Shard) SetCurrentColdIndex(v int) error {
	return s.kv.Put(kvKeyCurrentColdIdx, []byte(strconv.Itoa(v)))
}

// Config returns a copy of the shard's current configuration.
func (s *Shard) Config() config.ShardConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// State returns the shard's current lifecycle state.
func (s *Shard) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// validateBatch checks every document's id against idType and its content
// for non-emptiness. On any failure, the whole batch is rejected with the
// complete list of field errors — there is no partial commit.
func validateBatch(docs []Document, idType config.IDType) error {
	var fieldErrs []FieldError
	for i, d := range docs {
		switch idType {
		case config.IDTypeString:
			if d.ID == "" {
				fieldErrs = append(fieldErrs, FieldError{Field: fmt.Sprintf("documents[%d].id", i), Message: "must be a non-empty string", Value: d.ID})
			} else if len(d.ID) > 255 {
				fieldErrs = append(fieldErrs, FieldError{Field: fmt.Sprintf("documents[%d].id", i), Message: "must be <= 255 bytes", Value: d.ID})
			}
		case config.IDTypeInteger:
			// d.ID is only ever non-empty when the ingestion resolver parsed
			// this document's wire id as a string (see
			// internal/ingestion/validator.ValidateBatch) — a sure sign it
			// does not belong in an integer-keyed shard, since a resolved
			// integer id always leaves ID empty, including the valid id 0.
			if d.ID != "" {
				fieldErrs = append(fieldErrs, FieldError{Field: fmt.Sprintf("documents[%d].id", i), Message: "must be a non-negative integer, got a string id", Value: d.ID})
			} else if d.IntID < 0 {
				fieldErrs = append(fieldErrs, FieldError{Field: fmt.Sprintf("documents[%d].id", i), Message: "must be a non-negative integer", Value: strconv.FormatInt(d.IntID, 10)})
			}
		default:
			fieldErrs = append(fieldErrs, FieldError{Field: fmt.Sprintf("documents[%d].id", i), Message: "shard idType is not configured", Value: ""})
		}
		if d.Content == "" {
			fieldErrs = append(fieldErrs, FieldError{Field: fmt.Sprintf("documents[%d].content", i), Message: "must be a non-empty string", Value: ""})
		}
	}
	if len(fieldErrs) > 0 {
		return &ValidationErrors{Errors: fieldErrs}
	}
	return nil
}

// Index validates, filters, and upserts docs into the local store, then
// invalidates the cache and emits metrics. A shard in ReadOnly state rejects
// the entire batch.
func (s *Shard) Index(ctx context.Context, docs []Document) (int, error) {
	return s.writeBatch(ctx, docs, "index")
}

// Sync applies docs exactly as Index does; it exists as a distinct RPC only
// so that a replica or cold shard can distinguish traffic originating from
// another shard's replicator/lifecycle step from direct client writes.
func (s *Shard) Sync(ctx context.Context, docs []Document, upToRowid int64) (int, error) {
	return s.writeBatch(ctx, docs, "sync")
}

func (s *Shard) writeBatch(ctx context.Context, docs []Document, rpc string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateReadOnly {
		if s.metrics != nil {
			s.metrics.ShardRejectedTotal.WithLabelValues(s.name, "read_only").Inc()
		}
		return 0, appErrors.New(appErrors.ErrReadOnly, 0, "shard is read-only")
	}

	if err := validateBatch(docs, s.cfg.IDType); err != nil {
		if s.metrics != nil {
			s.metrics.ShardRejectedTotal.WithLabelValues(s.name, "validation").Inc()
		}
		return 0, err
	}

	storeDocs := make([]store.Doc, len(docs))
	for i, d := range docs {
		filtered := contentfilter.TruncateBytes(contentfilter.Filter(d.Content), contentfilter.MaxFilteredContentBytes)
		storeDocs[i] = store.Doc{ID: d.ID, IntID: d.IntID, Content: filtered}
	}

	if err := s.store.Upsert(ctx, storeDocs); err != nil {
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.ShardIndexedTotal.WithLabelValues(s.name, rpc).Add(float64(len(docs)))
	}
	if s.cacheInvalidate != nil {
		go s.cacheInvalidate()
	}
	return len(docs), nil
}

// Search plans the query, runs it against the local store, and — if
// includeCold is set and the shard is not read-only and has at least one
// cold shard — fans out via the caller-supplied cold search function,
// merging results by rank. Any internal error produces an empty result
// rather than propagating to the caller.
func (s *Shard) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, searchSoftDeadline)
	defer cancel()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ShardSearchLatency.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
		}
	}()

	s.mu.Lock()

	requestedMax := queryplanner.ClampRequestedMax(req.Max)
	plan := queryplanner.PlanQuery(req.Query, requestedMax)
	if !plan.Accepted {
		s.logger.Info("query rejected by planner", "reason", plan.Reason, "query", req.Query)
		if s.metrics != nil {
			s.metrics.ShardRejectedTotal.WithLabelValues(s.name, "planner").Inc()
		}
		s.mu.Unlock()
		return SearchResponse{}, nil
	}

	localHits, err := s.store.Match(ctx, plan.Processed, plan.RowCap)
	if err != nil {
		s.logger.Error("local match failed", "error", err)
		s.mu.Unlock()
		return SearchResponse{}, nil
	}

	hits := make([]Hit, len(localHits))
	for i, h := range localHits {
		hits[i] = Hit{ID: h.ID, Content: h.Content, Rank: h.Rank}
	}

	coldIdx := s.cfg.CurrentColdIndex
	includeCold := req.IncludeCold && s.state != StateReadOnly && coldIdx > 0 && s.coldSearchFn != nil
	coldSearchFn := s.coldSearchFn

	// Release the mutex before any cross-shard fan-out: coldSearchFn blocks
	// on peer RPCs, and per the concurrency model the shard's own mutex is
	// never held while awaiting a peer (mirrors Tick's unlock-before-fan-out
	// pattern in tick.go).
	s.mu.Unlock()

	if includeCold {
		coldHits := coldSearchFn(ctx, req.Query, requestedMax, coldIdx)
		hits = append(hits, coldHits...)
	}

	if len(hits) > requestedMax {
		hits = hits[:requestedMax]
	}
	return SearchResponse{Hits: hits}, nil
}

// breakerFor returns the circuit breaker guarding calls to the named peer,
// creating one on first use. One breaker per peer name bounds how long a
// dead replica or cold shard is retried before calls fail fast, independent
// of the shard's own mutex.
func (s *Shard) breakerFor(peer string) *resilience.CircuitBreaker {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()
	cb, ok := s.breakers[peer]
	if !ok {
		cb = resilience.NewCircuitBreaker(peer, resilience.CircuitBreakerConfig{})
		s.breakers[peer] = cb
	}
	return cb
}

// SetColdSearchFunc installs the router's cold-shard fan-out function.
func (s *Shard) SetColdSearchFunc(fn coldSearchFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coldSearchFn = fn
}

// Stats reports the current document count, on-disk byte size, and
// read-only flag. It never mutates shard state; on a store error it
// returns zeros alongside the true read-only flag.
func (s *Shard) Stats(ctx context.Context) (StatsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, bytes, err := s.store.CountAndBytes(ctx)
	readOnly := s.state == StateReadOnly
	if err != nil {
		s.logger.Error("stats query failed", "error", err)
		return StatsResponse{ReadOnly: readOnly}, nil
	}
	if s.metrics != nil {
		s.metrics.ShardBytesGauge.WithLabelValues(s.name).Set(float64(bytes))
		ro := 0.0
		if readOnly {
			ro = 1.0
		}
		s.metrics.ShardReadOnlyGauge.WithLabelValues(s.name).Set(ro)
	}
	return StatsResponse{Count: count, Bytes: bytes, ReadOnly: readOnly}, nil
}

// Configure merges patch into the shard's persisted configuration.
// Fresh -> Active on first Configure; Active -> ReadOnly when the patch
// sets ReadOnly; ReadOnly -> Active is forbidden and silently ignored, per
// spec.md's one-way state machine. idType is immutable once set.
func (s *Shard) Configure(ctx context.Context, patch config.ShardConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateFresh && patch.IDType != "" && s.cfg.IDType != "" && patch.IDType != s.cfg.IDType {
		return appErrors.New(appErrors.ErrIDTypeImmutable, 0, "idType cannot change once set")
	}

	wasFresh := s.state == StateFresh
	wasReadOnly := s.state == StateReadOnly

	s.cfg.Merge(patch)

	switch {
	case wasReadOnly:
		// ReadOnly -> Active forbidden; ignore any readOnly:false in patch.
		s.cfg.ReadOnly = true
	case patch.ReadOnly:
		s.state = StateReadOnly
	default:
		s.state = StateActive
	}

	if err := s.persistConfigLocked(); err != nil {
		return err
	}

	if wasFresh && s.state != StateFresh && s.onArmScheduler != nil {
		s.onArmScheduler()
	}
	return nil
}
