// Package analytics aggregates operational events emitted by the gateway
// (one index batch, one search query at a time) into running statistics for
// dashboards.
package analytics

import "time"

// EventType discriminates the analytics events carried on the platform's
// analytics Kafka topic.
type EventType string

const (
	EventIndex  EventType = "index"
	EventSearch EventType = "search"
)

// IndexEvent is emitted by the gateway after a batch is forwarded to the
// primary shard's Index RPC.
type IndexEvent struct {
	Type      EventType `json:"type"`
	Accepted  int       `json:"accepted"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// SearchEvent is emitted by the gateway after a query is served, whether
// from the query cache or a live replica RPC.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Hits      int       `json:"hits"`
	CacheHit  bool      `json:"cache_hit"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}
