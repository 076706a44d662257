// Package scheduler rearms a single timer per shard, invoking the
// replicator and lifecycle manager on every tick. It mirrors the
// platform's earlier ticker-based flush loop but rearms itself after each
// tick completes rather than firing on a fixed ticker, so a slow tick never
// queues up a backlog of overlapping ticks.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// firstArmDelay is how long after the first Configure the timer first
// fires, absent any prior timer.
const firstArmDelay = 5 * time.Second

// TickFunc runs one scheduler tick. It reports whether the shard is
// read-only (in which case the scheduler enters the absorption state and
// does not rearm) and the interval to rearm at otherwise.
type TickFunc func(ctx context.Context) (readOnly bool, interval time.Duration)

// Scheduler owns one *time.Timer and rearms it after each tick completes.
type Scheduler struct {
	mu     sync.Mutex
	timer  *time.Timer
	tick   TickFunc
	logger *slog.Logger
	armed  bool
}

// New creates a Scheduler that will call tick on every fire.
func New(tick TickFunc, logger *slog.Logger) *Scheduler {
	return &Scheduler{tick: tick, logger: logger}
}

// ArmIfNeeded arms the timer for the first time, firstArmDelay from now, if
// no timer has been armed yet. Subsequent calls are no-ops; the scheduler
// rearms itself after that.
func (s *Scheduler) ArmIfNeeded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed {
		return
	}
	s.armed = true
	s.timer = time.AfterFunc(firstArmDelay, s.fire)
}

// Stop cancels any pending timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Scheduler) fire() {
	readOnly, interval := s.tick(context.Background())
	if readOnly {
		if s.logger != nil {
			s.logger.Debug("scheduler entering absorption state, shard is read-only")
		}
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = time.AfterFunc(interval, s.fire)
}
