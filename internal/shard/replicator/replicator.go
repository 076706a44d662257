// Package replicator streams newly-indexed rows from a primary shard to its
// configured replicas on every scheduler tick. It has no dependency on the
// shard package itself — callers adapt their own store and registry types
// into the narrow Row/Target shapes here — which keeps the dependency
// graph a DAG even though shard.go is what drives this package.
//
// The fan-out pattern (spawn one goroutine per target, join, absorb
// per-target failure) mirrors the platform's sharded query executor.
package replicator

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Row is one newly-indexed document as scanned from the primary's store.
type Row struct {
	Rowid   int64
	ID      string
	IntID   int64
	Content string
}

// SyncFunc delivers rows to one replica and reports how many were applied.
// A transport error or a zero-applied result without an error both count as
// failure for that replica's outcome, per spec.md section 4.5.
type SyncFunc func(ctx context.Context, rows []Row) (applied int, err error)

// Target is one configured replica, already resolved to a callable stub.
type Target struct {
	Name string
	Sync SyncFunc
}

// Outcome records what happened when rows were offered to one target.
type Outcome struct {
	Target  string
	Applied int
	Err     error
}

// Result is the outcome of one Step call.
type Result struct {
	RowsScanned int
	Outcomes    []Outcome
	NewCursor   int64
	AnyFailed   bool
}

// Step implements the replicator algorithm: scan rows after cursor, fan out
// Sync calls to every target in parallel, and compute the new cursor. The
// cursor always advances to the maximum scanned rowid regardless of
// per-target failure — replicas that missed a window are expected to
// resynchronize on their own re-attach path, which is out of scope here.
// This preserves a deliberately-retained behavior from the original
// platform rather than the stronger (but also acceptable) "advance only to
// the minimum across successful replicas" alternative.
func Step(ctx context.Context, scan func(cursor int64) ([]Row, error), cursor int64, targets []Target, logger *slog.Logger) (Result, error) {
	rows, err := scan(cursor)
	if err != nil {
		return Result{}, fmt.Errorf("scanning rows since %d: %w", cursor, err)
	}
	if len(rows) == 0 {
		return Result{NewCursor: cursor}, nil
	}
	if len(targets) == 0 {
		return Result{RowsScanned: len(rows), NewCursor: maxRowid(rows, cursor)}, nil
	}

	outcomes := make([]Outcome, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			applied, err := target.Sync(gctx, rows)
			if err == nil && applied == 0 {
				err = fmt.Errorf("replica %s applied none of %d rows", target.Name, len(rows))
			}
			outcomes[i] = Outcome{Target: target.Name, Applied: applied, Err: err}
			return nil // absorb: a failed replica never short-circuits the group
		})
	}
	_ = g.Wait() // errors are absorbed per-target into outcomes, not propagated

	anyFailed := false
	for _, o := range outcomes {
		if o.Err != nil {
			anyFailed = true
			if logger != nil {
				logger.Warn("replica sync failed", "replica", o.Target, "error", o.Err)
			}
		}
	}

	newCursor := maxRowid(rows, cursor)
	return Result{
		RowsScanned: len(rows),
		Outcomes:    outcomes,
		NewCursor:   newCursor,
		AnyFailed:   anyFailed,
	}, nil
}

func maxRowid(rows []Row, floor int64) int64 {
	max := floor
	for _, r := range rows {
		if r.Rowid > max {
			max = r.Rowid
		}
	}
	return max
}
