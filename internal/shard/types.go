// Package shard implements the index shard: the single logical process that
// owns an FTS-backed store and plays four roles — indexer, query engine,
// replicator, and lifecycle manager — under one single-writer discipline.
package shard

import (
	"github.com/distshard/shardcore/pkg/config"
)

// Document is the caller-supplied unit of ingestion: an id (string or
// integer, per the shard's configured IDType) and non-empty content. Any
// other fields a caller attaches are not part of the core's contract.
type Document struct {
	ID      string `json:"id"`
	IntID   int64  `json:"int_id,omitempty"`
	Content string `json:"content"`
}

// StoredDocument is the indexed form of a Document: the assigned rowid, the
// original id, and the filtered content actually persisted.
type StoredDocument struct {
	Rowid           int64
	ID              string
	IntID           int64
	FilteredContent string
}

// Hit is a single search result: the caller-visible id, its original
// content, and its rank within the result set (lower is better, matching
// FTS5's bm25() convention).
type Hit struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Rank    float64 `json:"rank"`
}

// FieldError describes one field-level validation failure within a rejected
// batch, per spec.md section 4.4.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value"`
}

// ValidationErrors is the batch-level error returned when any document in an
// Index/Sync batch fails validation. The whole batch is rejected — there is
// no partial commit.
type ValidationErrors struct {
	Errors []FieldError
}

func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	msg := "validation failed: "
	for i, e := range v.Errors {
		if i > 0 {
			msg += "; "
		}
		msg += e.Field + ": " + e.Message
	}
	return msg
}

// State is the lifecycle state of a shard, per spec.md section 4.4.
type State int

const (
	StateFresh State = iota
	StateActive
	StateReadOnly
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateActive:
		return "active"
	case StateReadOnly:
		return "read-only"
	default:
		return "unknown"
	}
}

// SearchRequest is the input to Shard.Search.
type SearchRequest struct {
	Query       string
	IncludeCold bool
	Max         int
}

// SearchResponse is the output of Shard.Search.
type SearchResponse struct {
	Hits []Hit
}

// StatsResponse is the output of Shard.Stats.
type StatsResponse struct {
	Count    int64
	Bytes    int64
	ReadOnly bool
}

// ConfigurePatch is the input to Shard.Configure: a partial ShardConfig
// merged into the persisted config.
type ConfigurePatch = config.ShardConfig
