// Package notify fans competition lifecycle events out to in-process
// subscribers (websocket bridge, alerting) without ever blocking the
// publisher.
package notify

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types emitted by the engine.
const (
	EventCompetitionCreated   = "competition.created"
	EventPhaseChanged         = "competition.phase_changed"
	EventCompetitionResolved  = "competition.resolved"
	EventCompetitionPaused    = "competition.paused"
	EventCompetitionResumed   = "competition.resumed"
	EventCompetitionCancelled = "competition.cancelled"
	EventBetPlaced            = "bet.placed"
	EventAutomationDisabled   = "automation.disabled"
	EventAutomationEnabled    = "automation.enabled"
	EventError                = "error"
)

type Event struct {
	Type          string         `json:"type"`
	CompetitionID string         `json:"competition_id,omitempty"`
	At            time.Time      `json:"at"`
	Data          map[string]any `json:"data,omitempty"`
}

// Hub is a small fan-out. Subscribers that fall behind lose events rather
// than stalling the state machine.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event
	dropped uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[string][]chan Event{}}
}

// Subscribe returns a channel receiving events of the given type; an empty
// eventType subscribes to everything.
func (h *Hub) Subscribe(eventType string, buf int) <-chan Event {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)
	h.mu.Lock()
	h.subs[eventType] = append(h.subs[eventType], ch)
	h.mu.Unlock()
	return ch
}

// Publish delivers ev to every matching subscriber, dropping for any that is
// full.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.subs[ev.Type], ev)
	h.deliver(h.subs[""], ev)
}

func (h *Hub) deliver(chans []chan Event, ev Event) {
	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			// Drop when subscriber is slow; hub must not block.
			atomic.AddUint64(&h.dropped, 1)
		}
	}
}

// Dropped returns how many events were discarded for slow subscribers.
func (h *Hub) Dropped() uint64 {
	if h == nil {
		return 0
	}
	return atomic.LoadUint64(&h.dropped)
}
