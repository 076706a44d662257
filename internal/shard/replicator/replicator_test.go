package replicator

import (
	"context"
	"errors"
	"testing"
)

func rowsFrom(maxRowid int64) []Row {
	rows := make([]Row, 0, maxRowid)
	for i := int64(1); i <= maxRowid; i++ {
		rows = append(rows, Row{Rowid: i, ID: "doc", Content: "x"})
	}
	return rows
}

func TestStepReturnsEarlyWhenNothingNew(t *testing.T) {
	scan := func(cursor int64) ([]Row, error) { return nil, nil }
	res, err := Step(context.Background(), scan, 5, []Target{}, nil)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.NewCursor != 5 {
		t.Fatalf("NewCursor = %d, want 5 (unchanged)", res.NewCursor)
	}
}

func TestStepAdvancesCursorDespitePartialFailure(t *testing.T) {
	scan := func(cursor int64) ([]Row, error) { return rowsFrom(10), nil }
	targets := []Target{
		{Name: "ok", Sync: func(ctx context.Context, rows []Row) (int, error) { return len(rows), nil }},
		{Name: "bad", Sync: func(ctx context.Context, rows []Row) (int, error) { return 0, errors.New("transport error") }},
	}
	res, err := Step(context.Background(), scan, 0, targets, nil)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.NewCursor != 10 {
		t.Fatalf("NewCursor = %d, want 10 (advances despite failure)", res.NewCursor)
	}
	if !res.AnyFailed {
		t.Fatalf("expected AnyFailed=true")
	}
}

func TestStepIsMonotonicWithNoTargets(t *testing.T) {
	scan := func(cursor int64) ([]Row, error) { return rowsFrom(3), nil }
	res, err := Step(context.Background(), scan, 0, nil, nil)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.NewCursor != 3 {
		t.Fatalf("NewCursor = %d, want 3", res.NewCursor)
	}
}

func TestStepDeliversRowsInOrderToEachTarget(t *testing.T) {
	scan := func(cursor int64) ([]Row, error) { return rowsFrom(5), nil }
	var received []Row
	targets := []Target{
		{Name: "r1", Sync: func(ctx context.Context, rows []Row) (int, error) {
			received = rows
			return len(rows), nil
		}},
	}
	if _, err := Step(context.Background(), scan, 0, targets, nil); err != nil {
		t.Fatalf("Step: %v", err)
	}
	for i := 1; i < len(received); i++ {
		if received[i].Rowid <= received[i-1].Rowid {
			t.Fatalf("rows not delivered in rowid order: %+v", received)
		}
	}
}
