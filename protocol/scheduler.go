package protocol

import (
	"sync"
	"time"
)

// TickerScheduler runs recurring jobs on plain tickers, one goroutine per
// job. Re-scheduling an existing id replaces the job; unscheduling an
// unknown id is a no-op.
type TickerScheduler struct {
	mu   sync.Mutex
	jobs map[string]chan struct{}
}

// NewTickerScheduler returns an empty scheduler.
func NewTickerScheduler() *TickerScheduler {
	return &TickerScheduler{jobs: make(map[string]chan struct{})}
}

// Schedule implements Scheduler.
func (s *TickerScheduler) Schedule(id string, every time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.jobs[id]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	s.jobs[id] = stop
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				fn()
			case <-stop:
				return
			}
		}
	}()
}

// Unschedule implements Scheduler.
func (s *TickerScheduler) Unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.jobs[id]; ok {
		close(stop)
		delete(s.jobs, id)
	}
}

// Stop removes every job.
func (s *TickerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, stop := range s.jobs {
		close(stop)
		delete(s.jobs, id)
	}
}
