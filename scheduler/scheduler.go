// Package scheduler runs keyed periodic revalidation loops.
//
// One loop per key: Start is a no-op when a loop for the key already runs.
// The tick callback decides whether a refresh is actually needed (the cache's
// staleness gate makes fresh ticks cheap), so the scheduler itself carries no
// staleness policy.
package scheduler

import (
	"context"
	"sync"
	"time"
)

type loop struct {
	ticker *time.Ticker
	stopCh chan struct{}
}

// Scheduler owns a set of keyed refresh loops. Close stops them all and
// waits for their goroutines to exit.
type Scheduler struct {
	mu    sync.Mutex
	loops map[string]*loop

	wg        sync.WaitGroup
	closed    bool
	closeOnce sync.Once
}

func New() *Scheduler {
	return &Scheduler{loops: make(map[string]*loop)}
}

// Start begins ticking for key every interval, invoking tick on each tick.
// Returns false when a loop for key is already running or the scheduler is
// closed; interval must be positive.
func (s *Scheduler) Start(key string, interval time.Duration, tick func(ctx context.Context)) bool {
	if interval <= 0 || tick == nil {
		return false
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if _, running := s.loops[key]; running {
		s.mu.Unlock()
		return false
	}
	l := &loop{
		ticker: time.NewTicker(interval),
		stopCh: make(chan struct{}),
	}
	s.loops[key] = l
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-l.ticker.C:
				tick(context.Background())
			case <-l.stopCh:
				return
			}
		}
	}()
	return true
}

// Stop cancels the loop for key, if any. Safe to call for unknown keys.
func (s *Scheduler) Stop(key string) {
	s.mu.Lock()
	l, ok := s.loops[key]
	if ok {
		delete(s.loops, key)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	close(l.stopCh)
	l.ticker.Stop()
}

// Running reports whether a loop for key is active.
func (s *Scheduler) Running(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[key]
	return ok
}

// Close stops all loops and waits for them. Idempotent.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		loops := s.loops
		s.loops = make(map[string]*loop)
		s.mu.Unlock()
		for _, l := range loops {
			close(l.stopCh)
			l.ticker.Stop()
		}
		s.wg.Wait()
	})
}
