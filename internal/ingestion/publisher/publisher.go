// Package publisher forwards validated document batches from the ingest
// queue to the primary shard's Index RPC.
package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/distshard/shardcore/pkg/grpc"
	"github.com/distshard/shardcore/pkg/proto"
)

// Publisher forwards batches to the primary shard.
type Publisher struct {
	primary *grpc.Client
	logger  *slog.Logger
}

// New creates a Publisher that forwards to the given primary shard
// connection.
func New(primary *grpc.Client) *Publisher {
	return &Publisher{
		primary: primary,
		logger:  slog.Default().With("component", "publisher"),
	}
}

// Publish calls the primary shard's Index RPC with the given batch. The
// whole batch is rejected together if the shard is read-only or any
// document's id doesn't match the shard's configured idType.
func (p *Publisher) Publish(ctx context.Context, docs []proto.ShardDocument) (int, error) {
	req := proto.ShardIndexRequest{Documents: docs}
	var resp proto.ShardIndexResponse
	if err := p.primary.Call("Shard.Index", &req, &resp); err != nil {
		return 0, fmt.Errorf("indexing batch on primary shard: %w", err)
	}
	return resp.Accepted, nil
}
