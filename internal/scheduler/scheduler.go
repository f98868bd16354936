// Package scheduler wraps one-shot wall-clock timers behind an interface so
// phase-transition logic can run against simulated time in tests.
package scheduler

import (
	"sync"
	"time"
)

// Handle cancels a pending firing. Stopping an already-fired or already
// stopped handle is a no-op.
type Handle interface {
	Stop()
}

// Scheduler fires fn once at fireAt. A fireAt in the past fires immediately.
type Scheduler interface {
	At(fireAt time.Time, fn func()) Handle
	Now() time.Time
}

type wallClock struct{}

// NewWallClock returns a Scheduler backed by time.AfterFunc.
func NewWallClock() Scheduler {
	return wallClock{}
}

func (wallClock) Now() time.Time {
	return time.Now().UTC()
}

func (wallClock) At(fireAt time.Time, fn func()) Handle {
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	return timerHandle{timer: time.AfterFunc(delay, fn)}
}

type timerHandle struct {
	timer *time.Timer
}

func (h timerHandle) Stop() {
	if h.timer != nil {
		h.timer.Stop()
	}
}

// Simulated is a deterministic Scheduler for tests. Time only moves when
// Advance or Set is called; due callbacks run synchronously on the calling
// goroutine in firing order.
type Simulated struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	pending map[int]*simEntry
}

type simEntry struct {
	fireAt time.Time
	seq    int
	fn     func()
}

func NewSimulated(start time.Time) *Simulated {
	return &Simulated{
		now:     start.UTC(),
		pending: map[int]*simEntry{},
	}
}

func (s *Simulated) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Simulated) At(fireAt time.Time, fn func()) Handle {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.pending[id] = &simEntry{fireAt: fireAt.UTC(), seq: id, fn: fn}
	fire := !fireAt.After(s.now)
	s.mu.Unlock()
	if fire {
		s.run()
	}
	return &simHandle{s: s, id: id}
}

// Advance moves the clock forward by d, firing everything due on the way.
func (s *Simulated) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
	s.run()
}

// Set jumps the clock to t, firing everything due. Moving backwards is
// ignored.
func (s *Simulated) Set(t time.Time) {
	s.mu.Lock()
	if t.After(s.now) {
		s.now = t.UTC()
	}
	s.mu.Unlock()
	s.run()
}

// Pending reports how many timers are armed. Useful for asserting that a
// competition holds exactly one timer at a time.
func (s *Simulated) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Simulated) run() {
	for {
		s.mu.Lock()
		var due *simEntry
		var dueID int
		for id, entry := range s.pending {
			if entry.fireAt.After(s.now) {
				continue
			}
			if due == nil || entry.fireAt.Before(due.fireAt) ||
				(entry.fireAt.Equal(due.fireAt) && entry.seq < due.seq) {
				due = entry
				dueID = id
			}
		}
		if due == nil {
			s.mu.Unlock()
			return
		}
		delete(s.pending, dueID)
		s.mu.Unlock()
		due.fn()
	}
}

type simHandle struct {
	s  *Simulated
	id int
}

func (h *simHandle) Stop() {
	if h == nil || h.s == nil {
		return
	}
	h.s.mu.Lock()
	delete(h.s.pending, h.id)
	h.s.mu.Unlock()
}
