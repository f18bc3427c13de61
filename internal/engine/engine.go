// Package engine owns the single live booking attempt: admission, the
// automation session, the state machine goroutine, cancellation and the
// final report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/tatkal-scheduler/internal/booking"
	"github.com/example/tatkal-scheduler/internal/checkpoint"
	"github.com/example/tatkal-scheduler/internal/events"
	"github.com/example/tatkal-scheduler/internal/guard"
	"github.com/example/tatkal-scheduler/internal/log"
	"github.com/example/tatkal-scheduler/internal/metrics"
	"github.com/example/tatkal-scheduler/internal/session"
)

var ErrClosed = errors.New("engine closed")

// AutomationFactory opens a fresh automation session (a browser context)
// for one attempt. The closer is called after the attempt ends.
type AutomationFactory interface {
	NewSession(ctx context.Context, attemptID string, req booking.Request) (session.Drivers, io.Closer, error)
}

// Archiver stores terminal attempts.
type Archiver interface {
	Archive(ctx context.Context, st session.State, req booking.Request) error
}

type Options struct {
	Guard       *guard.Guard
	Checkpoints *checkpoint.Coordinator
	Sink        events.Sink
	Factory     AutomationFactory
	Credentials session.CredentialStore
	Archiver    Archiver
	Session     session.Config
	Logger      *zerolog.Logger
}

type attempt struct {
	id      string
	origin  string
	req     booking.Request
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	mu      sync.Mutex
	machine *session.Machine
	final   *session.State
}

func (a *attempt) state() session.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.final != nil:
		return *a.final
	case a.machine != nil:
		return a.machine.State()
	}
	return session.State{
		AttemptID:      a.id,
		Phase:          session.PhaseRunning,
		Stage:          session.StageIdle,
		Summary:        a.req.Summary(),
		StartedAt:      a.started,
		LastTransition: a.started,
		Message:        "Starting automation session",
	}
}

type Engine struct {
	opts   Options
	logger zerolog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	current *attempt
}

func New(opts Options) *Engine {
	if opts.Guard == nil {
		opts.Guard = &guard.Guard{}
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard{}
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = checkpoint.NewCoordinator(opts.Sink)
	}
	logger := log.WithComponent("engine")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{opts: opts, logger: logger, baseCtx: ctx, baseCancel: cancel}
}

// StartNow admits and starts an attempt immediately.
func (e *Engine) StartNow(ctx context.Context, req booking.Request) (string, error) {
	return e.start(ctx, req, "now")
}

// StartScheduled is StartNow on behalf of a fired schedule.
func (e *Engine) StartScheduled(ctx context.Context, req booking.Request, scheduleID string) (string, error) {
	return e.start(ctx, req, "schedule:"+scheduleID)
}

func (e *Engine) start(ctx context.Context, req booking.Request, origin string) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrClosed
	}

	id := uuid.NewString()
	lease, err := e.opts.Guard.TryAdmit(id)
	if err != nil {
		label := "now"
		if origin != "now" {
			label = "schedule"
		}
		metrics.AdmissionRejectTotal.WithLabelValues(label).Inc()
		holder, _ := e.opts.Guard.Active()
		e.logger.Warn().Str("origin", origin).Str("active_attempt", holder).Msg("attempt rejected")
		return "", err
	}

	actx, cancel := context.WithCancel(e.baseCtx)
	actx = log.ContextWithAttemptID(actx, id)
	a := &attempt{
		id:      id,
		origin:  origin,
		req:     req.Clone(),
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	e.current = a

	e.logger.Info().Str("attempt_id", id).Str("origin", origin).Str("request", a.req.Summary()).Msg("attempt admitted")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(a.done)
		defer cancel()
		st := e.run(actx, a)
		// free the guard as soon as the attempt is terminal; archiving can
		// be slow
		if !lease.Release() {
			e.logger.Error().Str("attempt_id", id).Msg("lease already released")
		}
		e.archive(actx, a, st)
	}()
	return id, nil
}

// run executes the attempt and records its terminal state.
func (e *Engine) run(ctx context.Context, a *attempt) session.State {
	e.opts.Sink.EmitStatus(ctx, events.Status{
		AttemptID: a.id,
		Stage:     string(session.StageIdle),
		Phase:     string(session.PhaseRunning),
		Message:   "Booking started: " + a.req.Summary(),
		Severity:  events.SeverityInfo,
		Timestamp: time.Now(),
	})

	var st session.State
	drivers, closer, err := e.opts.Factory.NewSession(ctx, a.id, a.req)
	if err != nil {
		st = e.setupFailed(ctx, a, err)
	} else {
		m := session.New(session.Params{
			AttemptID:   a.id,
			Request:     a.req,
			Drivers:     drivers,
			Credentials: e.opts.Credentials,
			Checkpoints: e.opts.Checkpoints,
			Sink:        e.opts.Sink,
			Config:      e.opts.Session,
		})
		a.mu.Lock()
		a.machine = m
		a.mu.Unlock()

		// Closing the automation session on cancel fails any driver call
		// still blocked in the portal, so the machine can wind down.
		closeSession := sync.OnceFunc(func() {
			if closer == nil {
				return
			}
			if err := closer.Close(); err != nil {
				e.logger.Warn().Err(err).Str("attempt_id", a.id).Msg("closing automation session")
			}
		})
		stop := context.AfterFunc(ctx, closeSession)
		st = m.Run(ctx)
		stop()
		closeSession()
	}

	a.mu.Lock()
	a.final = &st
	a.mu.Unlock()
	return st
}

func (e *Engine) archive(ctx context.Context, a *attempt, st session.State) {
	if e.opts.Archiver == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.opts.Archiver.Archive(actx, st, a.req); err != nil {
		e.logger.Error().Err(err).Str("attempt_id", a.id).Msg("archiving attempt")
	}
}

func (e *Engine) setupFailed(ctx context.Context, a *attempt, err error) session.State {
	now := time.Now()
	phase, reason := session.PhaseFailed, session.ReasonNonRetryable
	msg := fmt.Sprintf("Could not start automation: %v", err)
	if ctx.Err() != nil {
		phase, reason, msg = session.PhaseCancelled, session.ReasonCancelled, "Attempt cancelled by operator"
		err = session.ErrCancelled
	}
	st := session.State{
		AttemptID:      a.id,
		Phase:          phase,
		Stage:          session.StageIdle,
		Summary:        a.req.Summary(),
		StartedAt:      a.started,
		LastTransition: now,
		FinishedAt:     now,
		Reason:         reason,
		Message:        msg,
		Err:            err,
		Error:          err.Error(),
	}
	metrics.AttemptsTotal.WithLabelValues(string(phase), string(reason)).Inc()
	e.opts.Sink.EmitStatus(context.WithoutCancel(ctx), events.Status{
		AttemptID: a.id,
		Stage:     string(session.StageIdle),
		Phase:     string(phase),
		Message:   msg,
		Severity:  events.SeverityError,
		Reason:    string(reason),
		Timestamp: now,
	})
	return st
}

// Cancel stops the running attempt, if any, and reports whether there was
// one. It does not wait for the attempt to wind down.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	a := e.current
	e.mu.Unlock()
	if a == nil {
		return false
	}
	select {
	case <-a.done:
		return false
	default:
	}
	e.logger.Info().Str("attempt_id", a.id).Msg("cancel requested")
	a.cancel()
	return true
}

// SubmitCheckpoint forwards an operator answer. Unknown ids return false.
func (e *Engine) SubmitCheckpoint(id, value string) bool {
	return e.opts.Checkpoints.Submit(id, value)
}

// Checkpoint returns an outstanding checkpoint with its payload.
func (e *Engine) Checkpoint(id string) (checkpoint.Request, bool) {
	return e.opts.Checkpoints.Get(id)
}

// Snapshot is the operator-facing view of the engine.
type Snapshot struct {
	Active      bool                 `json:"active"`
	Attempt     *session.State       `json:"attempt,omitempty"`
	Checkpoints []checkpoint.Request `json:"checkpoints"`
	Guard       guard.Stats          `json:"guard"`
}

// Status never blocks on the running attempt.
func (e *Engine) Status() Snapshot {
	e.mu.Lock()
	a := e.current
	e.mu.Unlock()

	snap := Snapshot{Checkpoints: e.opts.Checkpoints.Pending(), Guard: e.opts.Guard.Stats()}
	if a != nil {
		st := a.state()
		snap.Attempt = &st
		snap.Active = !st.Terminal()
	}
	return snap
}

// Wait blocks until the current attempt, if any, has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close cancels any running attempt and waits for it to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.baseCancel()
	e.wg.Wait()
}
