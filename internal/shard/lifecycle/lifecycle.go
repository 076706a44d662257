// Package lifecycle drives the rolling migration of a primary shard's
// oldest documents into a sequence of cold shards once the primary crosses
// a count or byte-size threshold. Like replicator, it depends only on the
// narrow shapes declared here, not on the shard package, to keep the
// dependency graph acyclic.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
)

// Row is one document eligible to be migrated, oldest first.
type Row struct {
	Rowid   int64
	ID      string
	IntID   int64
	Content string
}

// ColdStub is the subset of a cold shard's RPC surface the lifecycle
// manager needs: Stats to learn remaining capacity, Index to write the
// migrated rows, and Configure to mark it read-only after the first write
// into a shard that was empty.
type ColdStub struct {
	Name         string
	Stats        func(ctx context.Context) (count int64, err error)
	Index        func(ctx context.Context, rows []Row) (accepted int, err error)
	MarkReadOnly func(ctx context.Context) error
}

// Params bundles the read side (current count/bytes, oldest rows) and the
// mutation side (address a cold shard by index, delete migrated rows, and
// persist the new cold-shard cursor) that Step needs from its caller.
type Params struct {
	Count               int64
	Bytes               int64
	PurgeCountThreshold int64
	PurgeTargetCount    int64
	SizeThresholdBytes  int64
	ColdShardCapacity   int64
	CurrentColdIndex    int
	FetchOldest         func(ctx context.Context, n int64) ([]Row, error)
	AddressCold         func(index int) (ColdStub, error)
	DeleteUpTo          func(ctx context.Context, rowid int64) (int64, error)
	PersistColdIndex    func(index int) error
}

// Result reports what one Step call did, for metrics and tests.
type Result struct {
	Migrated       int
	NewColdIndex   int
	ColdShardsUsed map[string]int
	Deleted        int64
	Aborted        bool
}

// Step runs one lifecycle pass. It is a no-op unless the primary has
// crossed either threshold. A cold shard whose Stats call fails is counted
// as empty. A cold shard that cannot be addressed, or a failed or short
// Index write, aborts the pass before deleting anything, leaving the
// primary's data intact for a retry on the next tick — a document is never
// simultaneously absent from the primary and absent from every cold shard.
func Step(ctx context.Context, p Params, logger *slog.Logger) (Result, error) {
	if p.Count < p.PurgeCountThreshold && p.Bytes <= p.SizeThresholdBytes {
		return Result{}, nil
	}

	var toPurge int64
	if p.PurgeTargetCount == 0 {
		toPurge = int64(float64(p.Count) * 0.2)
	} else {
		toPurge = p.Count - p.PurgeTargetCount
	}
	if toPurge <= 0 {
		return Result{}, nil
	}

	rows, err := p.FetchOldest(ctx, toPurge)
	if err != nil {
		return Result{}, fmt.Errorf("fetching oldest rows: %w", err)
	}
	if len(rows) == 0 {
		return Result{}, nil
	}

	i := p.CurrentColdIndex
	remaining := rows
	var lastMovedRowid int64
	usage := map[string]int{}

	for len(remaining) > 0 {
		stub, err := p.AddressCold(i)
		if err != nil {
			// An unreachable cold shard has nothing to write through, so the
			// pass aborts before deleting anything.
			if logger != nil {
				logger.Error("addressing cold shard failed, aborting migration", "index", i, "error", err)
			}
			return abort(usage, lastMovedRowid, i, p, logger)
		}

		count, err := stub.Stats(ctx)
		if err != nil {
			if logger != nil {
				logger.Warn("cold shard stats failed, assuming empty", "shard", stub.Name, "error", err)
			}
			count = 0
		}
		wasEmpty := count == 0

		available := p.ColdShardCapacity - count
		if available <= 0 {
			i++
			continue
		}

		move := available
		if move > int64(len(remaining)) {
			move = int64(len(remaining))
		}

		batch := remaining[:move]
		accepted, err := stub.Index(ctx, batch)
		if err != nil || int64(accepted) != move {
			if logger != nil {
				logger.Error("cold shard write failed, aborting migration", "shard", stub.Name, "error", err)
			}
			return abort(usage, lastMovedRowid, i, p, logger)
		}
		usage[stub.Name] += accepted

		// Mark read-only on the first write into a shard that was empty
		// beforehand, whether or not that write filled it — preserved from
		// the source behavior noted in the design notes, not the
		// alternative "mark on full" policy.
		if wasEmpty && stub.MarkReadOnly != nil {
			if err := stub.MarkReadOnly(ctx); err != nil && logger != nil {
				logger.Warn("marking cold shard read-only failed", "shard", stub.Name, "error", err)
			}
		}

		for _, r := range batch {
			if r.Rowid > lastMovedRowid {
				lastMovedRowid = r.Rowid
			}
		}
		remaining = remaining[move:]

		if move == available {
			i++
		}
	}

	if i != p.CurrentColdIndex {
		if err := p.PersistColdIndex(i); err != nil {
			return Result{}, fmt.Errorf("persisting cold index: %w", err)
		}
	}

	deleted, err := p.DeleteUpTo(ctx, lastMovedRowid)
	if err != nil {
		return Result{}, fmt.Errorf("deleting migrated rows: %w", err)
	}

	return Result{
		Migrated:       len(rows),
		NewColdIndex:   i,
		ColdShardsUsed: usage,
		Deleted:        deleted,
	}, nil
}

func abort(usage map[string]int, lastMovedRowid int64, coldIndex int, p Params, logger *slog.Logger) (Result, error) {
	if coldIndex != p.CurrentColdIndex {
		if err := p.PersistColdIndex(coldIndex); err != nil && logger != nil {
			logger.Error("persisting cold index during abort", "error", err)
		}
	}
	return Result{ColdShardsUsed: usage, NewColdIndex: coldIndex, Aborted: true}, nil
}
