// Package validator resolves the heterogeneous ids on a raw ingest batch
// into shard wire documents and rejects structurally malformed entries
// before they ever reach the primary shard's Index RPC.
package validator

import (
	"fmt"
	"math"
	"strings"

	"github.com/distshard/shardcore/internal/ingestion"
	"github.com/distshard/shardcore/pkg/proto"
)

const maxStringIDBytes = 255

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// ValidateBatch converts each RawDocument's JSON id (string or number) into
// a proto.ShardDocument's ID/IntID fields and checks content is non-empty.
// The whole batch is rejected with a ValidationError if any entry is
// malformed. Whether the resolved id type actually matches the shard's
// configured idType is left to the primary's own Index validation.
func ValidateBatch(docs []ingestion.RawDocument) ([]proto.ShardDocument, error) {
	errs := make(map[string]string)
	out := make([]proto.ShardDocument, 0, len(docs))

	for i, d := range docs {
		content := strings.TrimSpace(d.Content)
		if content == "" {
			errs[fmt.Sprintf("documents[%d].content", i)] = "content is required"
			continue
		}

		wire := proto.ShardDocument{Content: d.Content}
		switch id := d.ID.(type) {
		case string:
			if id == "" || len(id) > maxStringIDBytes {
				errs[fmt.Sprintf("documents[%d].id", i)] = fmt.Sprintf("id must be a non-empty string of at most %d bytes", maxStringIDBytes)
				continue
			}
			wire.ID = id
		case float64:
			if id < 0 || id != math.Trunc(id) {
				errs[fmt.Sprintf("documents[%d].id", i)] = "id must be a non-negative integer"
				continue
			}
			wire.IntID = int64(id)
		default:
			errs[fmt.Sprintf("documents[%d].id", i)] = "id must be a string or integer"
			continue
		}
		out = append(out, wire)
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}
	return out, nil
}
