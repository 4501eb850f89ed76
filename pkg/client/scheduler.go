package client

import (
	"sync"
	"time"
)

// Timer is a cancellable scheduled task.
type Timer interface {
	// Stop cancels the task. It reports whether the call prevented the
	// task from running.
	Stop() bool
}

// Scheduler runs f once after d. Implementations run f on their own
// goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler schedules with time.AfterFunc.
type RealScheduler struct{}

// AfterFunc implements Scheduler.
func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualScheduler records scheduled tasks and runs them only when Advance
// is called. It is intended for tests of reconnect behavior.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*manualTask
}

type manualTask struct {
	s       *ManualScheduler
	at      time.Duration
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTask) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// AfterFunc implements Scheduler.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTask{s: s, at: s.now + d, delay: d, f: f}
	s.tasks = append(s.tasks, t)
	return t
}

// Advance moves the clock forward by d and runs every due task in
// schedule order on the calling goroutine.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	now := s.now
	s.mu.Unlock()

	for {
		t := s.nextDue(now)
		if t == nil {
			return
		}
		t.f()
	}
}

func (s *ManualScheduler) nextDue(now time.Duration) *manualTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due *manualTask
	for _, t := range s.tasks {
		if t.stopped || t.fired || t.at > now {
			continue
		}
		if due == nil || t.at < due.at {
			due = t
		}
	}
	if due != nil {
		due.fired = true
	}
	return due
}

// Pending returns the delays of tasks that are neither stopped nor fired.
func (s *ManualScheduler) Pending() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Duration
	for _, t := range s.tasks {
		if !t.stopped && !t.fired {
			out = append(out, t.delay)
		}
	}
	return out
}
