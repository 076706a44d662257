// Package benchmark contains Go benchmarks for the shard's FTS store and
// query planner, measuring throughput and allocation behaviour.
package benchmark

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/distshard/shardcore/internal/shard/store"
)

// BenchmarkStoreUpsert measures per-document write throughput into the FTS
// store, one document at a time.
func BenchmarkStoreUpsert(b *testing.B) {
	st, err := store.Open(filepath.Join(b.TempDir(), "documents.db"), store.ModeString)
	if err != nil {
		b.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		doc := store.Doc{
			ID:      fmt.Sprintf("doc-%d", i),
			Content: "this is a benchmark document with several terms for testing indexing performance",
		}
		if err := st.Upsert(ctx, []store.Doc{doc}); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkStoreUpsertBatch measures write throughput for varying batch
// sizes, exercising the store's per-statement chunking.
func BenchmarkStoreUpsertBatch(b *testing.B) {
	batchSizes := []int{1, 10, 50, 200}
	for _, n := range batchSizes {
		b.Run(fmt.Sprintf("batch_%d", n), func(b *testing.B) {
			st, err := store.Open(filepath.Join(b.TempDir(), "documents.db"), store.ModeString)
			if err != nil {
				b.Fatal(err)
			}
			defer st.Close()

			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				docs := make([]store.Doc, n)
				for j := range docs {
					docs[j] = store.Doc{
						ID:      fmt.Sprintf("doc-%d-%d", i, j),
						Content: "benchmark document body for measuring batched indexing throughput",
					}
				}
				if err := st.Upsert(ctx, docs); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkStoreMatch measures single-term search latency over a
// pre-populated 10 000 document store.
func BenchmarkStoreMatch(b *testing.B) {
	st, err := store.Open(filepath.Join(b.TempDir(), "documents.db"), store.ModeString)
	if err != nil {
		b.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	docs := make([]store.Doc, 10000)
	for i := range docs {
		docs[i] = store.Doc{
			ID:      fmt.Sprintf("doc-%d", i),
			Content: "search engine with distributed indexing and query processing across shards",
		}
	}
	if err := st.Upsert(ctx, docs); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hits, err := st.Match(ctx, "search", 50)
		if err != nil {
			b.Fatal(err)
		}
		_ = hits
	}
}

// BenchmarkStoreMatchParallel measures concurrent read throughput against
// the same pre-populated store.
func BenchmarkStoreMatchParallel(b *testing.B) {
	st, err := store.Open(filepath.Join(b.TempDir(), "documents.db"), store.ModeString)
	if err != nil {
		b.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	docs := make([]store.Doc, 10000)
	for i := range docs {
		docs[i] = store.Doc{
			ID:      fmt.Sprintf("doc-%d", i),
			Content: "search engine with distributed indexing and query processing across shards",
		}
	}
	if err := st.Upsert(ctx, docs); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			hits, err := st.Match(ctx, "search", 50)
			if err != nil {
				b.Fatal(err)
			}
			_ = hits
		}
	})
}

// BenchmarkStoreCountAndBytes measures the cost of the stats query the
// shard's Stats RPC runs on every call.
func BenchmarkStoreCountAndBytes(b *testing.B) {
	st, err := store.Open(filepath.Join(b.TempDir(), "documents.db"), store.ModeString)
	if err != nil {
		b.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	docs := make([]store.Doc, 5000)
	for i := range docs {
		docs[i] = store.Doc{ID: fmt.Sprintf("doc-%d", i), Content: "testing stats performance with multiple documents"}
	}
	if err := st.Upsert(ctx, docs); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		count, bytes, err := st.CountAndBytes(ctx)
		if err != nil {
			b.Fatal(err)
		}
		_, _ = count, bytes
	}
}
