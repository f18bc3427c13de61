// Package scheduler arms booking attempts to fire at a clock-synchronized
// instant.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/tatkal-scheduler/internal/booking"
	"github.com/example/tatkal-scheduler/internal/clock"
	"github.com/example/tatkal-scheduler/internal/events"
	"github.com/example/tatkal-scheduler/internal/guard"
	"github.com/example/tatkal-scheduler/internal/log"
	"github.com/example/tatkal-scheduler/internal/metrics"
)

var (
	ErrInvalidScheduleTime = errors.New("invalid schedule time")
	ErrUnknownSchedule     = errors.New("unknown schedule")
	ErrClosed              = errors.New("scheduler closed")
)

// Clock is the synchronized time the scheduler arms against.
type Clock interface {
	TrueNow() time.Time
	Trusted(ctx context.Context) (clock.Offset, error)
	Sync(ctx context.Context) (clock.Offset, error)
}

// Starter admits and starts an attempt when a schedule fires.
type Starter interface {
	StartScheduled(ctx context.Context, req booking.Request, scheduleID string) (string, error)
}

type State string

const (
	StateArmed     State = "armed"
	StateFired     State = "fired"
	StateRejected  State = "rejected"
	StateCancelled State = "cancelled"
)

// Handle identifies an armed schedule.
type Handle string

// Info describes a schedule.
type Info struct {
	ID        Handle        `json:"id"`
	Summary   string        `json:"summary"`
	Target    time.Time     `json:"target"`
	Lead      time.Duration `json:"lead"`
	FireAt    time.Time     `json:"fire_at"`
	State     State         `json:"state"`
	FiredAt   time.Time     `json:"fired_at,omitzero"`
	AttemptID string        `json:"attempt_id,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type Options struct {
	Clock   Clock
	Starter Starter
	Sink    events.Sink
	// ResyncBeforeFire is how long before firing the clock is resynced
	// once more to correct drift accumulated during a long wait.
	ResyncBeforeFire time.Duration
	// MaxSleep bounds a single wait so the countdown is re-derived from the
	// latest offset regularly.
	MaxSleep time.Duration
	// Keep is how many finished schedules List remembers.
	Keep   int
	Logger *zerolog.Logger
}

type entry struct {
	info   Info
	req    booking.Request
	cancel context.CancelFunc
}

// Scheduler waits in one goroutine per armed schedule; waits never block
// callers.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	entries map[Handle]*entry
	order   []Handle
}

func New(opts Options) *Scheduler {
	if opts.ResyncBeforeFire <= 0 {
		opts.ResyncBeforeFire = 30 * time.Second
	}
	if opts.MaxSleep <= 0 {
		opts.MaxSleep = time.Minute
	}
	if opts.Keep <= 0 {
		opts.Keep = 50
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard{}
	}
	logger := log.WithComponent("scheduler")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[Handle]*entry),
	}
}

// Schedule arms req to fire at target-lead in synchronized time. target
// must be in the future; a stale clock offset is resynced first.
func (s *Scheduler) Schedule(ctx context.Context, req booking.Request, target time.Time, lead time.Duration) (Handle, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if lead < 0 {
		return "", fmt.Errorf("%w: negative lead time %s", ErrInvalidScheduleTime, lead)
	}
	if _, err := s.opts.Clock.Trusted(ctx); err != nil {
		return "", fmt.Errorf("arming schedule: %w", err)
	}

	now := s.opts.Clock.TrueNow()
	if !target.After(now) {
		return "", fmt.Errorf("%w: %s is not in the future (now %s)", ErrInvalidScheduleTime,
			target.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	}
	fireAt := target.Add(-lead)
	if fireAt.Before(now) {
		s.logger.Warn().Dur("lead", lead).Dur("until_target", target.Sub(now)).Msg("lead exceeds time left, firing immediately")
	}

	id := Handle(uuid.NewString())
	wctx, cancel := context.WithCancel(s.ctx)
	e := &entry{
		info: Info{
			ID:      id,
			Summary: req.Summary(),
			Target:  target,
			Lead:    lead,
			FireAt:  fireAt,
			State:   StateArmed,
		},
		req:    req.Clone(),
		cancel: cancel,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	s.entries[id] = e
	s.order = append(s.order, id)
	s.mu.Unlock()
	metrics.ActiveSchedules.Inc()

	s.logger.Info().Str("schedule_id", string(id)).Time("target", target).Time("fire_at", fireAt).Msg("schedule armed")
	s.opts.Sink.EmitStatus(ctx, events.Status{
		Phase:     "scheduled",
		Message:   fmt.Sprintf("Booking armed for %s (fires %s earlier)", target.Format(time.RFC3339), lead),
		Severity:  events.SeverityInfo,
		Timestamp: now,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.wait(wctx, id, fireAt) {
			s.fire(id)
		}
	}()
	return id, nil
}

// wait sleeps until fireAt in synchronized time. The countdown is re-derived
// from the clock after every sleep and the clock is resynced once,
// ResyncBeforeFire ahead of firing. It reports false when cancelled.
func (s *Scheduler) wait(ctx context.Context, id Handle, fireAt time.Time) bool {
	resynced := false
	for {
		remaining := fireAt.Sub(s.opts.Clock.TrueNow())
		if remaining <= 0 {
			return true
		}
		if !resynced && remaining <= s.opts.ResyncBeforeFire {
			resynced = true
			if _, err := s.opts.Clock.Sync(ctx); err != nil {
				if ctx.Err() != nil {
					return false
				}
				s.logger.Warn().Err(err).Str("schedule_id", string(id)).Msg("pre-fire clock resync failed, using last offset")
			}
			continue
		}

		d := remaining
		if !resynced {
			d = remaining - s.opts.ResyncBeforeFire
		}
		if d > s.opts.MaxSleep {
			d = s.opts.MaxSleep
		}

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

func (s *Scheduler) fire(id Handle) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.info.State != StateArmed {
		s.mu.Unlock()
		return
	}
	now := s.opts.Clock.TrueNow()
	e.info.State = StateFired
	e.info.FiredAt = now
	req := e.req
	fireAt := e.info.FireAt
	s.mu.Unlock()

	metrics.ActiveSchedules.Dec()
	metrics.ScheduleFireSkewSeconds.Observe(now.Sub(fireAt).Seconds())
	s.logger.Info().Str("schedule_id", string(id)).Dur("skew", now.Sub(fireAt)).Msg("schedule fired")

	attemptID, err := s.opts.Starter.StartScheduled(s.ctx, req, string(id))

	s.mu.Lock()
	if err != nil {
		e.info.State = StateRejected
		e.info.Error = err.Error()
	} else {
		e.info.AttemptID = attemptID
	}
	e.cancel()
	s.pruneLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("schedule_id", string(id)).Msg("scheduled attempt not started")
		s.opts.Sink.EmitStatus(s.ctx, events.Status{
			Phase:     "failed",
			Message:   fmt.Sprintf("Scheduled booking could not start: %v", err),
			Severity:  events.SeverityError,
			Reason:    reasonFor(err),
			Timestamp: s.opts.Clock.TrueNow(),
		})
	}
}

// Cancel disarms a schedule. Cancelling a schedule that already fired or
// was cancelled is a no-op.
func (s *Scheduler) Cancel(id Handle) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, id)
	}
	if e.info.State != StateArmed {
		s.mu.Unlock()
		return nil
	}
	e.info.State = StateCancelled
	e.cancel()
	s.pruneLocked()
	s.mu.Unlock()

	metrics.ActiveSchedules.Dec()
	s.logger.Info().Str("schedule_id", string(id)).Msg("schedule cancelled")
	s.opts.Sink.EmitStatus(context.Background(), events.Status{
		Phase:     "cancelled",
		Message:   "Scheduled booking cancelled",
		Severity:  events.SeverityInfo,
		Timestamp: s.opts.Clock.TrueNow(),
	})
	return nil
}

// Get returns one schedule.
func (s *Scheduler) Get(id Handle) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Info{}, false
	}
	return e.info, true
}

// List returns armed and recently finished schedules by fire time.
func (s *Scheduler) List() []Info {
	s.mu.Lock()
	out := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.info)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// pruneLocked forgets the oldest finished schedules beyond Keep.
func (s *Scheduler) pruneLocked() {
	finished := 0
	for _, id := range s.order {
		if s.entries[id].info.State != StateArmed {
			finished++
		}
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if finished > s.opts.Keep && s.entries[id].info.State != StateArmed {
			delete(s.entries, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// Run blocks until ctx is done, then disarms everything.
func (s *Scheduler) Run(ctx context.Context) error {
	<-ctx.Done()
	s.Close()
	return ctx.Err()
}

// Close disarms all schedules and waits for their goroutines.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for _, e := range s.entries {
		if e.info.State == StateArmed {
			e.info.State = StateCancelled
			metrics.ActiveSchedules.Dec()
		}
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func reasonFor(err error) string {
	if errors.Is(err, guard.ErrConcurrentAttempt) {
		return "concurrent_attempt"
	}
	return "start_rejected"
}
