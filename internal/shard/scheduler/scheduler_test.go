package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRearmsAfterCompletion(t *testing.T) {
	var fires atomic.Int32
	done := make(chan struct{})

	s := New(func(ctx context.Context) (bool, time.Duration) {
		n := fires.Add(1)
		if n >= 3 {
			close(done)
		}
		return false, 5 * time.Millisecond
	}, nil)

	// bypass firstArmDelay for the test
	s.mu.Lock()
	s.armed = true
	s.timer = time.AfterFunc(time.Millisecond, s.fire)
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not rearm and fire 3 times in time")
	}
	s.Stop()
}

func TestSchedulerAbsorbsOnReadOnly(t *testing.T) {
	var fires atomic.Int32
	s := New(func(ctx context.Context) (bool, time.Duration) {
		fires.Add(1)
		return true, time.Millisecond
	}, nil)

	s.mu.Lock()
	s.armed = true
	s.timer = time.AfterFunc(time.Millisecond, s.fire)
	s.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	if got := fires.Load(); got != 1 {
		t.Fatalf("fires = %d, want exactly 1 (absorption should stop rearming)", got)
	}
}

func TestArmIfNeededIsIdempotent(t *testing.T) {
	s := New(func(ctx context.Context) (bool, time.Duration) { return true, 0 }, nil)
	s.ArmIfNeeded()
	first := s.timer
	s.ArmIfNeeded()
	if s.timer != first {
		t.Fatalf("ArmIfNeeded rearmed an already-armed scheduler")
	}
	s.Stop()
}
