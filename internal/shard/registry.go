package shard

import (
	"context"

	"github.com/distshard/shardcore/pkg/config"
)

// Client is the typed stub exposed by one resolved shard address. *Shard
// itself satisfies this method set directly, which lets an in-process
// registry hand callers a live shard with no serialization round-trip.
type Client interface {
	Index(ctx context.Context, docs []Document) (int, error)
	Sync(ctx context.Context, docs []Document, upToRowid int64) (int, error)
	Search(ctx context.Context, req SearchRequest) (SearchResponse, error)
	Stats(ctx context.Context) (StatsResponse, error)
	Configure(ctx context.Context, patch config.ShardConfig) error
}

// Registry resolves shard addresses — replica descriptors and cold-shard
// indices — into Clients. It is the one capability a Shard is given at
// construction to reach any other shard; the core never learns how an
// address maps to a process, machine, or region.
type Registry interface {
	Resolve(descriptor config.ReplicaDescriptor) (Client, error)
	ResolveCold(index int) (Client, error)
}
