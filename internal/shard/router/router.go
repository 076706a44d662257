// Package router fans a search out to a primary shard's cold shards and
// merges the results by rank. It is adapted from the platform's earlier
// shard-result merger, which kept a bounded max-heap of the best-scoring
// documents seen so far; here "best" means lowest rank (the FTS5 bm25
// convention), so the heap's ordering is inverted from the original.
package router

import (
	"container/heap"
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Hit is one ranked result, independent of the shard package's Hit type to
// avoid an import cycle — shard.go converts at the boundary.
type Hit struct {
	ID      string
	Content string
	Rank    float64
}

// ColdSearchFunc runs a local-only search against one cold shard.
type ColdSearchFunc func(ctx context.Context, query string, max int) ([]Hit, error)

// ColdShard is one addressable cold shard.
type ColdShard struct {
	Name   string
	Search ColdSearchFunc
}

// ceilDiv returns ceil(a/b) for positive a, b.
func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

// FanOut queries every cold shard in parallel with a per-shard cap of
// ceil(max/n) (minimum 1), merges all returned hits by ascending rank, and
// truncates to max. A cold shard that errors is logged and treated as
// returning no hits, never failing the overall fan-out.
func FanOut(ctx context.Context, query string, max int, coldShards []ColdShard, logger *slog.Logger) []Hit {
	n := len(coldShards)
	if n == 0 {
		return nil
	}
	perShard := ceilDiv(max, n)
	if perShard < 1 {
		perShard = 1
	}

	results := make([][]Hit, n)
	g, gctx := errgroup.WithContext(ctx)
	for i, cs := range coldShards {
		i, cs := i, cs
		g.Go(func() error {
			hits, err := cs.Search(gctx, query, perShard)
			if err != nil {
				if logger != nil {
					logger.Warn("cold shard search failed", "shard", cs.Name, "error", err)
				}
				return nil
			}
			results[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	return mergeByRank(results, max)
}

// mergeByRank keeps the max lowest-rank hits across all shard result sets
// using a bounded max-heap (by rank), then extracts them in ascending
// order.
func mergeByRank(shardResults [][]Hit, max int) []Hit {
	if max <= 0 {
		max = 10
	}
	h := &rankHeap{}
	heap.Init(h)
	for _, hits := range shardResults {
		for _, hit := range hits {
			heap.Push(h, hit)
			if h.Len() > max {
				heap.Pop(h)
			}
		}
	}
	out := make([]Hit, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Hit)
	}
	return out
}

// rankHeap is a max-heap by Rank: the worst (highest-rank) hit sits at the
// top so it is the one evicted once the heap exceeds its capacity.
type rankHeap []Hit

func (h rankHeap) Len() int { return len(h) }

func (h rankHeap) Less(i, j int) bool {
	if h[i].Rank != h[j].Rank {
		return h[i].Rank > h[j].Rank
	}
	return h[i].ID < h[j].ID
}

func (h rankHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *rankHeap) Push(x any) {
	*h = append(*h, x.(Hit))
}

func (h *rankHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
