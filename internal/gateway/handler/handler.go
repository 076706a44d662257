// Package handler implements the API gateway's HTTP surface: /index,
// /search, and /configure, each translated into a shard RPC call against
// the primary or a replica. Searches are served through the shared query
// cache when one is configured, and both paths emit analytics events.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/distshard/shardcore/internal/analytics"
	"github.com/distshard/shardcore/internal/analytics/collector"
	"github.com/distshard/shardcore/internal/searcher/cache"
	"github.com/distshard/shardcore/internal/shard"
	"github.com/distshard/shardcore/pkg/grpc"
	"github.com/distshard/shardcore/pkg/proto"
)

// maxRequestedMax is the hard ceiling the gateway clamps every search's
// requested max to before it ever reaches a shard, per spec.md section 6.
const maxRequestedMax = 1000

// Handler implements the gateway's HTTP endpoints, dispatching to the
// primary shard for writes/configuration and to the nearest replica for
// reads.
type Handler struct {
	primary   *grpc.Client
	replica   *grpc.Client
	cache     *cache.QueryCache
	analytics *collector.BatchCollector
	logger    *slog.Logger
}

// New creates a gateway Handler dialing the given primary and replica shard
// addresses. If replicaAddr equals primaryAddr, or dialing the replica
// fails, reads fall back to the primary connection. queryCache and
// analyticsCollector are both optional; either may be nil to disable that
// side channel.
func New(primaryAddr, replicaAddr string, queryCache *cache.QueryCache, analyticsCollector *collector.BatchCollector) (*Handler, error) {
	primary, err := grpc.Dial(primaryAddr)
	if err != nil {
		return nil, err
	}
	replica := primary
	if replicaAddr != "" && replicaAddr != primaryAddr {
		if r, err := grpc.Dial(replicaAddr); err == nil {
			replica = r
		}
	}
	return &Handler{
		primary:   primary,
		replica:   replica,
		cache:     queryCache,
		analytics: analyticsCollector,
		logger:    slog.Default().With("component", "gateway-handler"),
	}, nil
}

// ---------- /index ----------

// Index forwards a batch of documents to the primary shard's Index RPC.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	var req proto.ShardIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	start := time.Now()
	var resp proto.ShardIndexResponse
	if err := h.primary.Call("Shard.Index", &req, &resp); err != nil {
		h.writeRPCError(w, err)
		return
	}
	h.trackIndex(resp.Accepted, time.Since(start))
	h.writeJSON(w, http.StatusOK, resp)
}

// ---------- /search ----------

// Search clamps max to maxRequestedMax and serves the query from the shared
// cache, falling back to a replica's Search RPC (falling back further to the
// primary if no distinct replica is configured) on a cache miss.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req proto.ShardSearchRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.Query = q.Get("query")
		req.IncludeCold = q.Get("include_cold") == "true"
		if v := q.Get("max"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				req.Max = n
			}
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Max <= 0 || req.Max > maxRequestedMax {
		req.Max = maxRequestedMax
	}

	start := time.Now()
	result, cacheHit, err := h.search(r.Context(), req)
	if err != nil {
		h.writeRPCError(w, err)
		return
	}
	h.trackSearch(req.Query, len(result.Hits), cacheHit, time.Since(start))
	h.writeJSON(w, http.StatusOK, toWireSearchResponse(result))
}

func (h *Handler) search(ctx context.Context, req proto.ShardSearchRequest) (*shard.SearchResponse, bool, error) {
	fetch := func() (*shard.SearchResponse, error) {
		var resp proto.ShardSearchResponse
		if err := h.replica.Call("Shard.Search", &req, &resp); err != nil {
			return nil, err
		}
		return &shard.SearchResponse{Hits: toShardHits(resp.Hits)}, nil
	}
	if h.cache == nil {
		result, err := fetch()
		return result, false, err
	}
	return h.cache.GetOrCompute(ctx, req.Query, req.Max, fetch)
}

// ---------- /configure ----------

// Configure forwards a ShardConfig patch to the primary shard's Configure
// RPC.
func (h *Handler) Configure(w http.ResponseWriter, r *http.Request) {
	var req proto.ShardConfigureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var resp proto.ShardConfigureResponse
	if err := h.primary.Call("Shard.Configure", &req, &resp); err != nil {
		h.writeRPCError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------- Health ----------

// Health returns the gateway's health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "gateway"})
}

// ---------- Analytics ----------

func (h *Handler) trackIndex(accepted int, elapsed time.Duration) {
	if h.analytics == nil {
		return
	}
	h.analytics.Track("index", analytics.IndexEvent{
		Type:      analytics.EventIndex,
		Accepted:  accepted,
		LatencyMs: elapsed.Milliseconds(),
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) trackSearch(query string, hits int, cacheHit bool, elapsed time.Duration) {
	if h.analytics == nil {
		return
	}
	h.analytics.Track("search", analytics.SearchEvent{
		Type:      analytics.EventSearch,
		Query:     query,
		Hits:      hits,
		CacheHit:  cacheHit,
		LatencyMs: elapsed.Milliseconds(),
		Timestamp: time.Now().UTC(),
	})
}

// ---------- Helpers ----------

func toShardHits(wire []proto.ShardHit) []shard.Hit {
	out := make([]shard.Hit, len(wire))
	for i, h := range wire {
		out[i] = shard.Hit{ID: h.ID, Content: h.Content, Rank: h.Rank}
	}
	return out
}

func toWireSearchResponse(resp *shard.SearchResponse) proto.ShardSearchResponse {
	hits := make([]proto.ShardHit, len(resp.Hits))
	for i, hit := range resp.Hits {
		hits[i] = proto.ShardHit{ID: hit.ID, Content: hit.Content, Rank: hit.Rank}
	}
	return proto.ShardSearchResponse{Hits: hits}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeRPCError maps a failed shard RPC call to an HTTP status. pkg/grpc
// flattens every handler error to a plain string over the wire (see
// pkg/grpc.Response.Error), so a sentinel can no longer be recovered with
// errors.Is on this side — the gateway matches on the sentinel's own message
// text instead, same as spec.md section 7 calls for translating
// ErrPlannerReject to 400.
func (h *Handler) writeRPCError(w http.ResponseWriter, err error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "query rejected by planner"), strings.Contains(msg, "document validation failed"):
		h.writeError(w, http.StatusBadRequest, msg)
	case strings.Contains(msg, "shard is read-only"):
		h.writeError(w, http.StatusForbidden, msg)
	default:
		h.logger.Error("shard rpc failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "shard unavailable")
	}
}
