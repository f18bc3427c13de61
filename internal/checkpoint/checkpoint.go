// Package checkpoint suspends a booking attempt until a human supplies a
// captcha answer, an OTP or a payment confirmation.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/tatkal-scheduler/internal/log"
	"github.com/example/tatkal-scheduler/internal/metrics"
)

var (
	ErrTimeout   = errors.New("checkpoint timed out")
	ErrCancelled = errors.New("checkpoint cancelled")
)

type Kind string

const (
	KindCaptcha Kind = "captcha"
	KindOTP     Kind = "otp"
	KindPayment Kind = "payment"
)

// Payload is what the operator needs to answer. Image bytes are served
// separately and never travel in events.
type Payload struct {
	Image       []byte `json:"-"`
	ContentType string `json:"content_type,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Request is one outstanding checkpoint.
type Request struct {
	ID        string    `json:"id"`
	AttemptID string    `json:"attempt_id,omitempty"`
	Kind      Kind      `json:"kind"`
	Payload   Payload   `json:"payload"`
	HasImage  bool      `json:"has_image"`
	Deadline  time.Time `json:"deadline"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier publishes a new checkpoint to whoever can answer it.
type Notifier interface {
	CheckpointRequested(ctx context.Context, req Request)
}

type waiter struct {
	req Request
	ch  chan string
}

// Coordinator matches human responses to suspended attempts by
// correlation id.
type Coordinator struct {
	notifier Notifier

	mu      sync.Mutex
	pending map[string]*waiter
}

func NewCoordinator(n Notifier) *Coordinator {
	return &Coordinator{notifier: n, pending: make(map[string]*waiter)}
}

// Request publishes a checkpoint and blocks until Submit answers it, the
// deadline passes (ErrTimeout) or ctx is cancelled (ErrCancelled). Only the
// calling goroutine is suspended.
func (c *Coordinator) Request(ctx context.Context, kind Kind, payload Payload, deadline time.Time) (string, error) {
	req := Request{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		HasImage:  len(payload.Image) > 0,
		Deadline:  deadline,
		CreatedAt: time.Now(),
	}
	req.AttemptID = log.AttemptIDFromContext(ctx)
	w := &waiter{req: req, ch: make(chan string, 1)}

	c.mu.Lock()
	c.pending[req.ID] = w
	c.mu.Unlock()

	if c.notifier != nil {
		c.notifier.CheckpointRequested(ctx, req)
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case v := <-w.ch:
		observe(kind, "answered", req.CreatedAt)
		return v, nil
	case <-timer.C:
		if !c.remove(req.ID) {
			// Submit won the race at the deadline
			observe(kind, "answered", req.CreatedAt)
			return <-w.ch, nil
		}
		observe(kind, "timeout", req.CreatedAt)
		return "", fmt.Errorf("%w: %s %s after %s", ErrTimeout, kind, req.ID, time.Since(req.CreatedAt).Round(time.Millisecond))
	case <-ctx.Done():
		c.remove(req.ID)
		observe(kind, "cancelled", req.CreatedAt)
		return "", fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
}

// Submit delivers value to the checkpoint with the given id. Unknown, stale
// and duplicate ids are ignored and reported as false.
func (c *Coordinator) Submit(id, value string) bool {
	c.mu.Lock()
	w, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	w.ch <- value
	return true
}

// Get returns an outstanding checkpoint, including its payload.
func (c *Coordinator) Get(id string) (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.pending[id]
	if !ok {
		return Request{}, false
	}
	return w.req, true
}

// Pending lists outstanding checkpoints, oldest first.
func (c *Coordinator) Pending() []Request {
	c.mu.Lock()
	out := make([]Request, 0, len(c.pending))
	for _, w := range c.pending {
		out = append(out, w.req)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (c *Coordinator) remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

func observe(kind Kind, outcome string, since time.Time) {
	metrics.CheckpointWaitSeconds.WithLabelValues(string(kind), outcome).Observe(time.Since(since).Seconds())
}
