package device

import (
	"sync"
	"time"
)

// scheduler runs a callback on a fixed interval with at most one
// pending timer. The next tick is armed only after the previous
// callback returns, so a slow pass never stacks timers; Stop cancels
// the pending timer and prevents any further arming.
type scheduler struct {
	interval time.Duration
	fn       func()
	once     bool

	mu      sync.Mutex
	timer   *time.Timer
	running bool
}

func newScheduler(interval time.Duration, fn func()) *scheduler {
	return &scheduler{interval: interval, fn: fn}
}

// newOneShotScheduler fires fn once after delay and does not re-arm.
// Start or StartAfter arms another single shot.
func newOneShotScheduler(delay time.Duration, fn func()) *scheduler {
	return &scheduler{interval: delay, fn: fn, once: true}
}

// Start arms the first tick. Calling Start on a running scheduler
// restarts the pending timer.
func (s *scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.armLocked(s.interval)
}

// StartAfter arms a single tick after delay instead of the configured
// interval. Used for one-shot retries.
func (s *scheduler) StartAfter(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.armLocked(delay)
}

// Stop cancels the pending timer. A tick already executing runs to
// completion but does not re-arm.
func (s *scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Running reports whether the scheduler will fire again.
func (s *scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *scheduler) armLocked(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, s.tick)
}

func (s *scheduler) tick() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.fn()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.once {
		s.running = false
		return
	}
	if s.running {
		s.armLocked(s.interval)
	}
}
