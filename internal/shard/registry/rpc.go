package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/distshard/shardcore/internal/shard"
	"github.com/distshard/shardcore/pkg/config"
	"github.com/distshard/shardcore/pkg/grpc"
	"github.com/distshard/shardcore/pkg/proto"
)

// RPC is a registry that resolves addresses to network peers and dials
// pkg/grpc connections lazily, caching one connection per address.
type RPC struct {
	mu         sync.Mutex
	addrs      map[string]string // name -> "host:port"
	conns      map[string]*grpc.Client
	coldPrefix string
}

// NewRPC creates an RPC registry over the given name-to-address map.
func NewRPC(addrs map[string]string, coldPrefix string) *RPC {
	return &RPC{
		addrs:      addrs,
		conns:      make(map[string]*grpc.Client),
		coldPrefix: coldPrefix,
	}
}

func (r *RPC) clientFor(name string) (shard.Client, error) {
	addr, ok := r.addrs[name]
	if !ok {
		return nil, fmt.Errorf("no address configured for shard %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[name]
	if !ok {
		c, err := grpc.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("dialing shard %s at %s: %w", name, addr, err)
		}
		conn = c
		r.conns[name] = conn
	}
	return &rpcClient{name: name, conn: conn}, nil
}

// Resolve looks up a replica descriptor's peer address and returns a stub
// that dispatches RPCs over pkg/grpc.
func (r *RPC) Resolve(descriptor config.ReplicaDescriptor) (shard.Client, error) {
	if err := descriptor.Validate(); err != nil {
		return nil, err
	}
	return r.clientFor(descriptor.Key())
}

// ResolveCold returns a stub addressing "<coldPrefix>-<index>".
func (r *RPC) ResolveCold(index int) (shard.Client, error) {
	return r.clientFor(fmt.Sprintf("%s-%d", r.coldPrefix, index))
}

// rpcClient adapts one pkg/grpc.Client connection to the shard.Client
// method set, translating between internal shard types and the wire
// messages in pkg/proto.
type rpcClient struct {
	name string
	conn *grpc.Client
}

func toWireDocs(docs []shard.Document) []proto.ShardDocument {
	out := make([]proto.ShardDocument, len(docs))
	for i, d := range docs {
		out[i] = proto.ShardDocument{ID: d.ID, IntID: d.IntID, Content: d.Content}
	}
	return out
}

func fromWireDocs(docs []proto.ShardDocument) []shard.Document {
	out := make([]shard.Document, len(docs))
	for i, d := range docs {
		out[i] = shard.Document{ID: d.ID, IntID: d.IntID, Content: d.Content}
	}
	return out
}

func (c *rpcClient) Index(ctx context.Context, docs []shard.Document) (int, error) {
	var resp proto.ShardIndexResponse
	req := proto.ShardIndexRequest{Documents: toWireDocs(docs)}
	if err := c.conn.Call("Shard.Index", &req, &resp); err != nil {
		return 0, fmt.Errorf("calling Shard.Index on %s: %w", c.name, err)
	}
	return resp.Accepted, nil
}

func (c *rpcClient) Sync(ctx context.Context, docs []shard.Document, upToRowid int64) (int, error) {
	var resp proto.ShardSyncResponse
	req := proto.ShardSyncRequest{Documents: toWireDocs(docs), UpToRowid: upToRowid}
	if err := c.conn.Call("Shard.Sync", &req, &resp); err != nil {
		return 0, fmt.Errorf("calling Shard.Sync on %s: %w", c.name, err)
	}
	return resp.Applied, nil
}

func (c *rpcClient) Search(ctx context.Context, req shard.SearchRequest) (shard.SearchResponse, error) {
	var resp proto.ShardSearchResponse
	wireReq := proto.ShardSearchRequest{Query: req.Query, IncludeCold: req.IncludeCold, Max: req.Max}
	if err := c.conn.Call("Shard.Search", &wireReq, &resp); err != nil {
		return shard.SearchResponse{}, fmt.Errorf("calling Shard.Search on %s: %w", c.name, err)
	}
	hits := make([]shard.Hit, len(resp.Hits))
	for i, h := range resp.Hits {
		hits[i] = shard.Hit{ID: h.ID, Content: h.Content, Rank: h.Rank}
	}
	return shard.SearchResponse{Hits: hits}, nil
}

func (c *rpcClient) Stats(ctx context.Context) (shard.StatsResponse, error) {
	var resp proto.ShardStatsResponse
	req := proto.ShardStatsRequest{}
	if err := c.conn.Call("Shard.Stats", &req, &resp); err != nil {
		return shard.StatsResponse{}, fmt.Errorf("calling Shard.Stats on %s: %w", c.name, err)
	}
	return shard.StatsResponse{Count: resp.Count, Bytes: resp.Bytes, ReadOnly: resp.ReadOnly}, nil
}

func (c *rpcClient) Configure(ctx context.Context, patch config.ShardConfig) error {
	wireReq := configureRequestFromPatch(patch)
	var resp proto.ShardConfigureResponse
	if err := c.conn.Call("Shard.Configure", &wireReq, &resp); err != nil {
		return fmt.Errorf("calling Shard.Configure on %s: %w", c.name, err)
	}
	return nil
}

func configureRequestFromPatch(patch config.ShardConfig) proto.ShardConfigureRequest {
	req := proto.ShardConfigureRequest{
		IDType:              string(patch.IDType),
		TickIntervalMs:      patch.TickIntervalMs,
		PurgeCountThreshold: patch.PurgeCountThreshold,
		PurgeTargetCount:    patch.PurgeTargetCount,
		SizeThresholdBytes:  patch.SizeThresholdBytes,
		ColdShardPrefix:     patch.ColdShardPrefix,
		ColdShardCapacity:   patch.ColdShardCapacity,
	}
	if patch.ReadOnly {
		ro := true
		req.ReadOnly = &ro
	}
	for _, r := range patch.Replicas {
		req.Replicas = append(req.Replicas, proto.ShardReplicaDescriptor{
			Kind: string(r.Kind), Name: r.Name, ID: r.ID,
		})
	}
	return req
}

// PatchFromConfigureRequest converts a wire ShardConfigureRequest back into
// a config.ShardConfig patch, for use by the server-side RPC handler.
func PatchFromConfigureRequest(req proto.ShardConfigureRequest) config.ShardConfig {
	patch := config.ShardConfig{
		IDType:              config.IDType(req.IDType),
		TickIntervalMs:      req.TickIntervalMs,
		PurgeCountThreshold: req.PurgeCountThreshold,
		PurgeTargetCount:    req.PurgeTargetCount,
		SizeThresholdBytes:  req.SizeThresholdBytes,
		ColdShardPrefix:     req.ColdShardPrefix,
		ColdShardCapacity:   req.ColdShardCapacity,
	}
	if req.ReadOnly != nil {
		patch.ReadOnly = *req.ReadOnly
	}
	for _, r := range req.Replicas {
		patch.Replicas = append(patch.Replicas, config.ReplicaDescriptor{
			Kind: config.ReplicaKind(r.Kind), Name: r.Name, ID: r.ID,
		})
	}
	return patch
}
