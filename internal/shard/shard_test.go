package shard_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distshard/shardcore/internal/shard"
	"github.com/distshard/shardcore/internal/shard/registry"
	"github.com/distshard/shardcore/internal/shard/store"
	"github.com/distshard/shardcore/pkg/config"
	"github.com/distshard/shardcore/pkg/kv"
	"github.com/distshard/shardcore/pkg/metrics"
)

// newTestShard builds a Shard over a fresh on-disk FTS store and bbolt
// state file, with no registered peers.
func newTestShard(t *testing.T, name string, mode store.Mode) (*shard.Shard, *registry.InProcess) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "documents.db"), mode)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	kvStore, err := kv.Open(filepath.Join(dir, "state.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { kvStore.Close() })

	reg := registry.NewInProcess("cold")
	s := shard.New(name, st, kvStore, reg, metrics.New())
	reg.Register(name, s)
	return s, reg
}

// failingClient is a shard.Client that fails every call, standing in for an
// unreachable replica or cold shard.
type failingClient struct{}

func (failingClient) Index(ctx context.Context, docs []shard.Document) (int, error) {
	return 0, fmt.Errorf("failing client: index unavailable")
}
func (failingClient) Sync(ctx context.Context, docs []shard.Document, upToRowid int64) (int, error) {
	return 0, fmt.Errorf("failing client: sync unavailable")
}
func (failingClient) Search(ctx context.Context, req shard.SearchRequest) (shard.SearchResponse, error) {
	return shard.SearchResponse{}, fmt.Errorf("failing client: search unavailable")
}
func (failingClient) Stats(ctx context.Context) (shard.StatsResponse, error) {
	return shard.StatsResponse{}, fmt.Errorf("failing client: stats unavailable")
}
func (failingClient) Configure(ctx context.Context, patch config.ShardConfig) error {
	return fmt.Errorf("failing client: configure unavailable")
}

func configureString(t *testing.T, s *shard.Shard, patch config.ShardConfig) {
	t.Helper()
	patch.IDType = config.IDTypeString
	require.NoError(t, s.Configure(context.Background(), patch))
}

// ---------------------------------------------------------------------------
// Scenario 1: basic index + search
// ---------------------------------------------------------------------------

func TestScenarioBasicIndexAndSearch(t *testing.T) {
	s, _ := newTestShard(t, "primary", store.ModeString)
	ctx := context.Background()

	configureString(t, s, config.ShardConfig{})

	n, err := s.Index(ctx, []shard.Document{{ID: "a", Content: "JavaScript programming tutorial"}})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	resp, err := s.Search(ctx, shard.SearchRequest{Query: "javascript", Max: 10})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	require.Equal(t, "a", resp.Hits[0].ID)
}

// ---------------------------------------------------------------------------
// Scenario 2: stop/common word filtering
// ---------------------------------------------------------------------------

func TestScenarioStopAndCommonFiltering(t *testing.T) {
	s, _ := newTestShard(t, "primary", store.ModeString)
	ctx := context.Background()

	configureString(t, s, config.ShardConfig{})

	_, err := s.Index(ctx, []shard.Document{{ID: "x", Content: "The cat is funny meme"}})
	require.NoError(t, err)

	resp, err := s.Search(ctx, shard.SearchRequest{Query: "cat", Max: 10})
	require.NoError(t, err)
	require.Empty(t, resp.Hits, "filtered content is empty, so \"cat\" should never match")
}

// ---------------------------------------------------------------------------
// Scenario 3: cost rejection
// ---------------------------------------------------------------------------

func TestScenarioCostRejection(t *testing.T) {
	s, _ := newTestShard(t, "primary", store.ModeString)
	ctx := context.Background()

	configureString(t, s, config.ShardConfig{})

	resp, err := s.Search(ctx, shard.SearchRequest{Query: "the and or cat meme", Max: 100})
	require.NoError(t, err)
	require.Empty(t, resp.Hits, "planner should reject a query that is almost entirely common tokens")
}

// ---------------------------------------------------------------------------
// Scenario 4: upsert idempotence (also I7's single-writer half)
// ---------------------------------------------------------------------------

func TestScenarioUpsertIdempotence(t *testing.T) {
	s, _ := newTestShard(t, "primary", store.ModeString)
	ctx := context.Background()

	configureString(t, s, config.ShardConfig{})

	_, err := s.Index(ctx, []shard.Document{{ID: "u", Content: "A"}})
	require.NoError(t, err)
	_, err = s.Index(ctx, []shard.Document{{ID: "u", Content: "B"}})
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Count)

	resp, err := s.Search(ctx, shard.SearchRequest{Query: "b", Max: 10})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	require.Equal(t, "u", resp.Hits[0].ID)
}

// ---------------------------------------------------------------------------
// Scenario 5: replication
// ---------------------------------------------------------------------------

func TestScenarioReplication(t *testing.T) {
	primary, reg := newTestShard(t, "primary", store.ModeString)
	replica, _ := newTestShard(t, "region-replica", store.ModeString)
	reg.Register("region-replica", replica)

	ctx := context.Background()
	configureString(t, replica, config.ShardConfig{})
	configureString(t, primary, config.ShardConfig{
		Replicas: []config.ReplicaDescriptor{{Kind: config.ReplicaKindRegion, Name: "region-replica"}},
	})

	docs := make([]shard.Document, 100)
	for i := range docs {
		content := "filler document body about distributed search"
		if i == 42 {
			content = "document containing unique-term-42 for this test"
		}
		docs[i] = shard.Document{ID: fmt.Sprintf("doc-%d", i), Content: content}
	}
	n, err := primary.Index(ctx, docs)
	require.NoError(t, err)
	require.Equal(t, 100, n)

	readOnly, _ := primary.Tick(ctx)
	require.False(t, readOnly)

	stats, err := replica.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(100), stats.Count)

	resp, err := replica.Search(ctx, shard.SearchRequest{Query: "unique-term-42", Max: 10})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
}

// ---------------------------------------------------------------------------
// Scenario 6: rolling cold storage
// ---------------------------------------------------------------------------

func TestScenarioRollingColdStorage(t *testing.T) {
	primary, reg := newTestShard(t, "primary", store.ModeString)
	ctx := context.Background()

	coldNames := []string{"cold-0", "cold-1", "cold-2", "cold-3"}
	coldShards := make(map[string]*shard.Shard, len(coldNames))
	for _, name := range coldNames {
		cs, _ := newTestShard(t, name, store.ModeString)
		configureString(t, cs, config.ShardConfig{})
		reg.Register(name, cs)
		coldShards[name] = cs
	}

	configureString(t, primary, config.ShardConfig{
		PurgeCountThreshold: 20,
		PurgeTargetCount:    10,
		ColdShardCapacity:   5,
		ColdShardPrefix:     "cold",
	})

	docs := make([]shard.Document, 25)
	for i := range docs {
		content := "filler document body about rolling cold storage"
		if i == 3 {
			content = "document containing purgedtermalpha for later lookup"
		}
		docs[i] = shard.Document{ID: fmt.Sprintf("doc-%d", i), Content: content}
	}
	_, err := primary.Index(ctx, docs)
	require.NoError(t, err)

	readOnly, _ := primary.Tick(ctx)
	require.False(t, readOnly)

	primaryStats, err := primary.Stats(ctx)
	require.NoError(t, err)
	require.LessOrEqual(t, primaryStats.Count, int64(20))

	cold0Stats, err := coldShards["cold-0"].Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), cold0Stats.Count)
	require.True(t, cold0Stats.ReadOnly)

	cold1Stats, err := coldShards["cold-1"].Stats(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, cold1Stats.Count, int64(5))

	primaryCfg := primary.Config()
	require.Contains(t, []int{2, 3}, primaryCfg.CurrentColdIndex)

	resp, err := primary.Search(ctx, shard.SearchRequest{Query: "purgedtermalpha", IncludeCold: true, Max: 10})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
}

// ---------------------------------------------------------------------------
// I1: live rowids shrink only through a lifecycle step, and every removed
// rowid lands on a cold shard with the same id and content.
// ---------------------------------------------------------------------------

func TestInvariantLifecycleNeverLosesData(t *testing.T) {
	primary, reg := newTestShard(t, "primary", store.ModeString)
	ctx := context.Background()

	cold0, _ := newTestShard(t, "cold-0", store.ModeString)
	configureString(t, cold0, config.ShardConfig{})
	reg.Register("cold-0", cold0)

	configureString(t, primary, config.ShardConfig{
		PurgeCountThreshold: 5,
		PurgeTargetCount:    2,
		ColdShardCapacity:   10,
		ColdShardPrefix:     "cold",
	})

	docs := make([]shard.Document, 6)
	for i := range docs {
		docs[i] = shard.Document{ID: fmt.Sprintf("doc-%d", i), Content: fmt.Sprintf("unique content marker%d here", i)}
	}
	_, err := primary.Index(ctx, docs)
	require.NoError(t, err)

	primary.Tick(ctx)

	primaryStats, err := primary.Stats(ctx)
	require.NoError(t, err)
	require.LessOrEqual(t, primaryStats.Count, int64(2))

	coldStats, err := cold0.Stats(ctx)
	require.NoError(t, err)
	require.Greater(t, coldStats.Count, int64(0))

	// Every purged document must be findable on the cold shard with its
	// original content, never silently dropped.
	for i := range docs {
		resp, err := primary.Search(ctx, shard.SearchRequest{Query: fmt.Sprintf("marker%d", i), Max: 10})
		require.NoError(t, err)
		if len(resp.Hits) == 1 {
			continue // still on the primary
		}
		coldResp, err := cold0.Search(ctx, shard.SearchRequest{Query: fmt.Sprintf("marker%d", i), Max: 10})
		require.NoError(t, err)
		require.Len(t, coldResp.Hits, 1, "doc %d must be on either the primary or the cold shard, never neither", i)
	}
}

// ---------------------------------------------------------------------------
// I2: lastSyncedRowid is monotonically non-decreasing, even across a tick
// where the only configured replica fails.
// ---------------------------------------------------------------------------

func TestInvariantLastSyncedRowidMonotonic(t *testing.T) {
	primary, reg := newTestShard(t, "primary", store.ModeString)
	ctx := context.Background()

	replica, _ := newTestShard(t, "replica", store.ModeString)
	configureString(t, replica, config.ShardConfig{})
	reg.Register("region-replica", replica)

	configureString(t, primary, config.ShardConfig{
		Replicas: []config.ReplicaDescriptor{{Kind: config.ReplicaKindRegion, Name: "region-replica"}},
	})

	_, err := primary.Index(ctx, []shard.Document{{ID: "a", Content: "first batch of content"}})
	require.NoError(t, err)
	primary.Tick(ctx)
	cursorAfterFirst := primary.LastSyncedRowid()
	require.Greater(t, cursorAfterFirst, int64(0))

	// Knock out the replica's registration so the next tick's sync fails for
	// every target; per the preserved design-note behavior, the cursor still
	// advances (it never decreases).
	reg.Register("region-replica", failingClient{})
	_, err = primary.Index(ctx, []shard.Document{{ID: "b", Content: "second batch of content"}})
	require.NoError(t, err)
	primary.Tick(ctx)
	cursorAfterSecond := primary.LastSyncedRowid()

	require.GreaterOrEqual(t, cursorAfterSecond, cursorAfterFirst)
}

// ---------------------------------------------------------------------------
// I3: a successful Index makes every matching document searchable, subject
// to rowCap.
// ---------------------------------------------------------------------------

func TestInvariantIndexThenSearchFindsMatches(t *testing.T) {
	s, _ := newTestShard(t, "primary", store.ModeString)
	ctx := context.Background()
	configureString(t, s, config.ShardConfig{})

	docs := []shard.Document{
		{ID: "1", Content: "golang concurrency patterns"},
		{ID: "2", Content: "golang generics overview"},
		{ID: "3", Content: "python data science basics"},
	}
	_, err := s.Index(ctx, docs)
	require.NoError(t, err)

	resp, err := s.Search(ctx, shard.SearchRequest{Query: "golang", Max: 10})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 2)

	ids := map[string]bool{}
	for _, h := range resp.Hits {
		ids[h.ID] = true
	}
	require.True(t, ids["1"])
	require.True(t, ids["2"])
}

// ---------------------------------------------------------------------------
// I4: Stats.Bytes reports the true on-disk database size, not an estimate.
// ---------------------------------------------------------------------------

func TestInvariantStatsBytesMatchesFileSize(t *testing.T) {
	s, _ := newTestShard(t, "primary", store.ModeString)
	ctx := context.Background()
	configureString(t, s, config.ShardConfig{})

	before, err := s.Stats(ctx)
	require.NoError(t, err)

	_, err = s.Index(ctx, []shard.Document{{ID: "a", Content: "enough content to grow the database file"}})
	require.NoError(t, err)

	after, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Greater(t, after.Bytes, int64(0))
	require.GreaterOrEqual(t, after.Bytes, before.Bytes)
}

// ---------------------------------------------------------------------------
// I7: two concurrent Index calls with the same id leave exactly one row.
// ---------------------------------------------------------------------------

func TestInvariantConcurrentIndexSameIDLeavesOneRow(t *testing.T) {
	s, _ := newTestShard(t, "primary", store.ModeString)
	ctx := context.Background()
	configureString(t, s, config.ShardConfig{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Index(ctx, []shard.Document{{ID: "race", Content: "first writer content"}})
	}()
	go func() {
		defer wg.Done()
		s.Index(ctx, []shard.Document{{ID: "race", Content: "second writer content"}})
	}()
	wg.Wait()

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Count)

	firstResp, _ := s.Search(ctx, shard.SearchRequest{Query: "first", Max: 10})
	secondResp, _ := s.Search(ctx, shard.SearchRequest{Query: "second", Max: 10})
	require.Equal(t, 1, len(firstResp.Hits)+len(secondResp.Hits), "exactly one writer's content should have won")
}

// ---------------------------------------------------------------------------
// I8: a cold shard, once marked read-only, rejects every subsequent write.
// ---------------------------------------------------------------------------

func TestInvariantReadOnlyRejectsWrites(t *testing.T) {
	s, _ := newTestShard(t, "cold-0", store.ModeString)
	ctx := context.Background()
	configureString(t, s, config.ShardConfig{ReadOnly: true})

	_, err := s.Index(ctx, []shard.Document{{ID: "a", Content: "should be rejected"}})
	require.Error(t, err)

	_, err = s.Sync(ctx, []shard.Document{{ID: "b", Content: "also rejected"}}, 1)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// State machine: Fresh -> Active/ReadOnly is one-way, and idType is
// immutable once set.
// ---------------------------------------------------------------------------

func TestStateMachineReadOnlyIsOneWay(t *testing.T) {
	s, _ := newTestShard(t, "primary", store.ModeString)
	ctx := context.Background()

	require.Equal(t, shard.StateFresh, s.State())
	configureString(t, s, config.ShardConfig{})
	require.Equal(t, shard.StateActive, s.State())

	require.NoError(t, s.Configure(ctx, config.ShardConfig{ReadOnly: true}))
	require.Equal(t, shard.StateReadOnly, s.State())

	// Attempting to flip back to writable is silently ignored.
	require.NoError(t, s.Configure(ctx, config.ShardConfig{ReadOnly: false}))
	require.Equal(t, shard.StateReadOnly, s.State())
}

func TestConfigureIDTypeImmutableOnceSet(t *testing.T) {
	s, _ := newTestShard(t, "primary", store.ModeString)
	ctx := context.Background()

	configureString(t, s, config.ShardConfig{})
	err := s.Configure(ctx, config.ShardConfig{IDType: config.IDTypeInteger})
	require.Error(t, err)
	require.Equal(t, config.IDTypeString, s.Config().IDType)
}

// ---------------------------------------------------------------------------
// Validation: an entire batch is rejected together, with field errors for
// every offending document.
// ---------------------------------------------------------------------------

func TestIndexRejectsWholeBatchOnValidationFailure(t *testing.T) {
	s, _ := newTestShard(t, "primary", store.ModeString)
	ctx := context.Background()
	configureString(t, s, config.ShardConfig{})

	_, err := s.Index(ctx, []shard.Document{
		{ID: "good", Content: "valid content here"},
		{ID: "", Content: "missing id"},
	})
	require.Error(t, err)

	resp, err := s.Search(ctx, shard.SearchRequest{Query: "valid", Max: 10})
	require.NoError(t, err)
	require.Empty(t, resp.Hits, "the whole batch must be rejected, including the valid document")
}

// A document whose id the ingestion resolver parsed as a string (leaving
// IntID at its zero value) must be rejected by an integer-keyed shard, not
// silently upserted as id 0.
func TestIndexRejectsStringIDOnIntegerShard(t *testing.T) {
	s, _ := newTestShard(t, "primary", store.ModeInteger)
	ctx := context.Background()
	require.NoError(t, s.Configure(ctx, config.ShardConfig{IDType: config.IDTypeInteger}))

	_, err := s.Index(ctx, []shard.Document{{ID: "not-an-integer", Content: "mismatched id type"}})
	require.Error(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Count)
}

func TestTickIntervalReflectsConfiguredValue(t *testing.T) {
	s, _ := newTestShard(t, "primary", store.ModeString)
	ctx := context.Background()
	configureString(t, s, config.ShardConfig{TickIntervalMs: 2000})

	_, err := s.Index(ctx, []shard.Document{{ID: "a", Content: "some content"}})
	require.NoError(t, err)

	readOnly, interval := s.Tick(ctx)
	require.False(t, readOnly)
	require.Equal(t, 2*time.Second, interval)
}
