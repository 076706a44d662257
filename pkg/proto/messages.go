// Package proto defines the shared message types used for internal RPC
// communication between services in the Distributed Search & Analytics Platform.
//
// These types are hand-written for zero-dependency usage; there are no
// .proto sources in this repository and nothing here is generated.
//
// The hand-written types use JSON struct tags for serialization over the
// platform's lightweight JSON-over-TCP RPC layer (see pkg/grpc).
package proto

// ---------- Common ----------

// Document represents a document across all services.
type Document struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	ContentHash string `json:"content_hash"`
	ContentSize int32  `json:"content_size"`
	ShardID     int32  `json:"shard_id"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
	IndexedAt   int64  `json:"indexed_at,omitempty"`
}

// Pagination controls limit/offset for list endpoints.
type Pagination struct {
	Limit  int32 `json:"limit"`
	Offset int32 `json:"offset"`
}

// HealthCheckResponse mirrors the gRPC health check spec.
type HealthCheckResponse struct {
	Status string `json:"status"` // SERVING, NOT_SERVING, UNKNOWN
}

// ---------- Search ----------

// SearchRequest is the input to the Search RPC.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int32  `json:"limit"`
}

// SearchResponse is the output of the Search RPC.
type SearchResponse struct {
	Query     string         `json:"query"`
	TotalHits int32          `json:"total_hits"`
	Results   []SearchResult `json:"results"`
	LatencyMs int64          `json:"latency_ms"`
}

// SearchResult is a single scored document in the result set.
type SearchResult struct {
	DocID string  `json:"doc_id"`
	Title string  `json:"title"`
	Score float32 `json:"score"`
}

// SuggestRequest is the input to the Suggest RPC.
type SuggestRequest struct {
	Prefix   string `json:"prefix"`
	MaxItems int32  `json:"max_items"`
}

// SuggestResponse is the output of the Suggest RPC.
type SuggestResponse struct {
	Suggestions []string `json:"suggestions"`
}

// ---------- Index ----------

// IndexRequest is the input to the IndexDocument RPC.
type IndexRequest struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	ShardID    int32  `json:"shard_id"`
}

// IndexResponse is the output of the IndexDocument RPC.
type IndexResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatsRequest optionally filters by shard (0 = all).
type StatsRequest struct {
	ShardID int32 `json:"shard_id"`
}

// StatsResponse contains index-level statistics.
type StatsResponse struct {
	TotalDocs      int64       `json:"total_docs"`
	TotalSegments  int64       `json:"total_segments"`
	TotalSizeBytes int64       `json:"total_size_bytes"`
	Shards         []ShardStat `json:"shards,omitempty"`
}

// ShardStat holds per-shard statistics.
type ShardStat struct {
	ShardID      int32 `json:"shard_id"`
	DocCount     int64 `json:"doc_count"`
	SegmentCount int64 `json:"segment_count"`
	SizeBytes    int64 `json:"size_bytes"`
}

// FlushRequest triggers a segment flush.
type FlushRequest struct {
	ShardID int32 `json:"shard_id"`
}

// FlushResponse confirms the flush.
type FlushResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ---------- Shard ----------

// ShardDocument is one document as carried over the wire to a shard's
// Index or Sync RPC.
type ShardDocument struct {
	ID      string `json:"id"`
	IntID   int64  `json:"int_id,omitempty"`
	Content string `json:"content"`
}

// ShardIndexRequest is the input to the Shard.Index RPC.
type ShardIndexRequest struct {
	Documents []ShardDocument `json:"documents"`
}

// ShardIndexResponse is the output of the Shard.Index RPC.
type ShardIndexResponse struct {
	Accepted int `json:"accepted"`
}

// ShardFieldError mirrors a single field-level validation failure.
type ShardFieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value"`
}

// ShardSyncRequest is the input to the Shard.Sync RPC sent by a replicator
// to one of its configured replicas.
type ShardSyncRequest struct {
	Documents []ShardDocument `json:"documents"`
	UpToRowid int64           `json:"up_to_rowid"`
}

// ShardSyncResponse is the output of the Shard.Sync RPC.
type ShardSyncResponse struct {
	Applied int `json:"applied"`
}

// ShardSearchRequest is the input to the Shard.Search RPC.
type ShardSearchRequest struct {
	Query       string `json:"query"`
	IncludeCold bool   `json:"include_cold"`
	Max         int    `json:"max"`
}

// ShardHit is a single ranked result in a ShardSearchResponse.
type ShardHit struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Rank    float64 `json:"rank"`
}

// ShardSearchResponse is the output of the Shard.Search RPC.
type ShardSearchResponse struct {
	Hits []ShardHit `json:"hits"`
}

// ShardStatsRequest is the input to the Shard.Stats RPC (no fields: always
// reports the whole shard).
type ShardStatsRequest struct{}

// ShardStatsResponse is the output of the Shard.Stats RPC.
type ShardStatsResponse struct {
	Count    int64 `json:"count"`
	Bytes    int64 `json:"bytes"`
	ReadOnly bool  `json:"read_only"`
}

// ShardConfigureRequest carries a partial configuration patch merged into a
// shard's persisted configuration.
type ShardConfigureRequest struct {
	IDType              string                   `json:"id_type,omitempty"`
	TickIntervalMs      int64                    `json:"tick_interval_ms,omitempty"`
	PurgeCountThreshold int64                    `json:"purge_count_threshold,omitempty"`
	PurgeTargetCount    int64                    `json:"purge_target_count,omitempty"`
	SizeThresholdBytes  int64                    `json:"size_threshold_bytes,omitempty"`
	ColdShardPrefix     string                   `json:"cold_shard_prefix,omitempty"`
	ColdShardCapacity   int64                    `json:"cold_shard_capacity,omitempty"`
	Replicas            []ShardReplicaDescriptor `json:"replicas,omitempty"`
	ReadOnly            *bool                    `json:"read_only,omitempty"`
}

// ShardReplicaDescriptor mirrors config.ReplicaDescriptor over the wire.
type ShardReplicaDescriptor struct {
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`
	ID   string `json:"id,omitempty"`
}

// ShardConfigureResponse confirms a Configure RPC.
type ShardConfigureResponse struct {
	Applied bool `json:"applied"`
}
