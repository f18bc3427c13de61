package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/example/tatkal-scheduler/internal/checkpoint"
	"github.com/example/tatkal-scheduler/internal/log"
)

const (
	TypeStatus     = "status"
	TypeCheckpoint = "checkpoint"

	subscriberBuffer = 64
	dropLogEvery     = 100
)

// Event is what subscribers receive.
type Event struct {
	Type       string              `json:"type"`
	Status     *Status             `json:"status,omitempty"`
	Checkpoint *checkpoint.Request `json:"checkpoint,omitempty"`
}

// Hub is an in-memory Sink that fans events out to subscribers (the SSE
// stream) and remembers the most recent ones for late joiners. A slow
// subscriber loses events instead of stalling the attempt.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	recent []Event
	size   int

	dropped atomic.Uint64
}

func NewHub(recent int) *Hub {
	if recent <= 0 {
		recent = 100
	}
	return &Hub{subs: make(map[*Subscription]struct{}), size: recent}
}

type Subscription struct {
	h  *Hub
	ch chan Event
	o  sync.Once
}

func (s *Subscription) C() <-chan Event { return s.ch }

// Close unsubscribes and closes the channel. Safe to call twice.
func (s *Subscription) Close() {
	s.o.Do(func() {
		s.h.mu.Lock()
		delete(s.h.subs, s)
		close(s.ch)
		s.h.mu.Unlock()
	})
}

// Subscribe registers a subscriber and returns it together with a copy of
// the recent history.
func (h *Hub) Subscribe() (*Subscription, []Event) {
	s := &Subscription{h: h, ch: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	hist := append([]Event(nil), h.recent...)
	h.mu.Unlock()
	return s, hist
}

// Recent returns up to the last n events, oldest first.
func (h *Hub) Recent() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Event(nil), h.recent...)
}

func (h *Hub) EmitStatus(_ context.Context, st Status) {
	h.publish(Event{Type: TypeStatus, Status: &st})
}

func (h *Hub) CheckpointRequested(_ context.Context, req checkpoint.Request) {
	req.Payload.Image = nil
	h.publish(Event{Type: TypeCheckpoint, Checkpoint: &req})
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	h.recent = append(h.recent, ev)
	if len(h.recent) > h.size {
		h.recent = append(h.recent[:0:0], h.recent[len(h.recent)-h.size:]...)
	}
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			if n := h.dropped.Add(1); n%dropLogEvery == 1 {
				log.WithComponent("events").Warn().Uint64("dropped", n).Msg("slow subscriber, dropping events")
			}
		}
	}
	h.mu.Unlock()
}

var _ Sink = (*Hub)(nil)
