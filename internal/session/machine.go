package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/tatkal-scheduler/internal/booking"
	"github.com/example/tatkal-scheduler/internal/checkpoint"
	"github.com/example/tatkal-scheduler/internal/events"
	"github.com/example/tatkal-scheduler/internal/log"
	"github.com/example/tatkal-scheduler/internal/metrics"
	"github.com/example/tatkal-scheduler/internal/retry"
)

// Config holds the timing knobs of an attempt.
type Config struct {
	Policy retry.Policy
	// Budget is the wall-clock budget of the whole attempt, normally the
	// length of the Tatkal window. Zero disables the check.
	Budget time.Duration
	// CheckpointTimeout is the operator's deadline per checkpoint kind.
	CheckpointTimeout map[checkpoint.Kind]time.Duration
}

const defaultCheckpointTimeout = 2 * time.Minute

func (c Config) checkpointTimeout(k checkpoint.Kind) time.Duration {
	if d, ok := c.CheckpointTimeout[k]; ok && d > 0 {
		return d
	}
	return defaultCheckpointTimeout
}

// Params wires one Machine. Drivers, Checkpoints and Sink are required.
type Params struct {
	AttemptID   string
	Request     booking.Request
	Drivers     Drivers
	Credentials CredentialStore
	Checkpoints *checkpoint.Coordinator
	Sink        events.Sink
	Config      Config

	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *zerolog.Logger
}

// Machine runs exactly one attempt. Run is called once; State may be called
// from any goroutine.
type Machine struct {
	p      Params
	logger zerolog.Logger

	mu sync.RWMutex
	st State
}

func New(p Params) *Machine {
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	if p.Sink == nil {
		p.Sink = events.Discard{}
	}
	logger := log.WithComponent("session").With().Str("attempt_id", p.AttemptID).Logger()
	if p.Logger != nil {
		logger = *p.Logger
	}
	return &Machine{
		p:      p,
		logger: logger,
		st: State{
			AttemptID: p.AttemptID,
			Phase:     PhaseIdle,
			Stage:     StageIdle,
			Summary:   p.Request.Summary(),
		},
	}
}

// State returns a snapshot.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.st
	st.Retries = maps.Clone(m.st.Retries)
	return st
}

// Run drives the pipeline to a terminal state and returns it. Cancelling
// ctx ends the attempt as Cancelled, interrupting any checkpoint wait.
func (m *Machine) Run(ctx context.Context) State {
	ctx = log.ContextWithAttemptID(ctx, m.p.AttemptID)

	start := m.p.Now()
	var deadline time.Time
	if m.p.Config.Budget > 0 {
		deadline = start.Add(m.p.Config.Budget)
	}
	tracker := retry.NewTracker(m.p.Config.Policy, deadline)
	sc := &StageContext{
		AttemptID:   m.p.AttemptID,
		Request:     m.p.Request,
		Credentials: m.p.Credentials,
		Logger:      m.logger,
	}

	m.mu.Lock()
	m.st.StartedAt = start
	m.mu.Unlock()

	if missing := m.p.Drivers.Missing(); len(missing) > 0 {
		err := fmt.Errorf("%w: no driver for %v", retry.ErrNonRetryable, missing)
		return m.finish(ctx, PhaseFailed, StageIdle, ReasonNonRetryable, err, "Attempt misconfigured")
	}

	i := 0
	tracker.Advance(string(Pipeline[0]))
	m.transition(ctx, PhaseRunning, Pipeline[0], Pipeline[0].label()+"...", events.SeverityInfo)

	for i < len(Pipeline) {
		stage := Pipeline[i]
		if ctx.Err() != nil {
			return m.cancelled(ctx, stage)
		}

		res, err := m.runStage(ctx, stage, sc)
		switch {
		case err != nil && errors.Is(err, checkpoint.ErrTimeout):
			kind, _ := stage.Checkpoint()
			return m.finish(ctx, PhaseFailed, stage, ReasonCheckpointTimeout, err,
				fmt.Sprintf("No %s received before the deadline", kind))
		case err != nil || ctx.Err() != nil:
			return m.cancelled(ctx, stage)
		case res.IsAdvance():
			i++
			sc.Human = ""
			if i < len(Pipeline) {
				tracker.Advance(string(Pipeline[i]))
				m.transition(ctx, PhaseRunning, Pipeline[i], Pipeline[i].label()+"...", events.SeverityInfo)
			}
			continue
		}

		d := tracker.Decide(string(stage), res.Class, m.p.Now())
		if res.Err != nil {
			m.logger.Debug().Err(res.Err).Str("stage", string(stage)).Str("result", res.String()).Msg("stage failed")
		}
		if !d.Retry {
			err := fmt.Errorf("%w (%s: %s)", d.Err, stage, res.Reason)
			return m.finish(ctx, PhaseFailed, stage, reasonFor(d.Err), err,
				fmt.Sprintf("%s failed: %s", stage.label(), res.Reason))
		}

		metrics.StageRetriesTotal.WithLabelValues(string(stage), res.Class.String()).Inc()
		m.setRetries(tracker.Counts())
		m.transition(ctx, PhaseRetrying, stage,
			fmt.Sprintf("%s failed (%s), retry %d in %s", stage.label(), res.Reason, d.Attempt, d.Wait),
			events.SeverityWarning)

		if err := m.p.Sleep(ctx, d.Wait); err != nil {
			return m.cancelled(ctx, stage)
		}
		m.transition(ctx, PhaseRunning, stage, fmt.Sprintf("%s (retry %d)...", stage.label(), d.Attempt), events.SeverityInfo)
	}

	m.mu.Lock()
	m.st.PNR = sc.Get(ValuePNR)
	pnr := m.st.PNR
	m.mu.Unlock()
	msg := "Booking confirmed"
	if pnr != "" {
		msg += ", PNR " + pnr
	}
	return m.finish(ctx, PhaseSucceeded, StageConfirming, ReasonNone, nil, msg)
}

// runStage executes one stage, asking the operator first when the stage is
// a checkpoint. A non-nil error is terminal: checkpoint timeout or
// cancellation.
func (m *Machine) runStage(ctx context.Context, stage Stage, sc *StageContext) (res Result, err error) {
	drv := m.p.Drivers[stage]
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("stage", string(stage)).Msg("stage driver panicked")
			res, err = Fatal(fmt.Sprintf("driver panic: %v", r)), nil
		}
	}()

	kind, human := stage.Checkpoint()
	if !human {
		return drv.Execute(ctx, sc), nil
	}

	var prompt Prompt
	if p, ok := drv.(Preparer); ok {
		var pres Result
		prompt, pres = p.Prepare(ctx, sc)
		if !pres.IsAdvance() {
			return pres, nil
		}
		if prompt.Skip {
			m.transition(ctx, PhaseRunning, stage, fmt.Sprintf("No %s requested, continuing", kind), events.SeverityInfo)
			return Advance(), nil
		}
	}

	timeout := m.p.Config.checkpointTimeout(kind)
	m.transition(ctx, PhaseAwaitingHuman, stage,
		fmt.Sprintf("Waiting for %s (%s left)", kind, timeout), events.SeverityWarning)

	v, err := m.p.Checkpoints.Request(ctx, kind, prompt.Payload, m.p.Now().Add(timeout))
	if err != nil {
		return Result{}, err
	}
	sc.Human = v
	m.transition(ctx, PhaseRunning, stage, fmt.Sprintf("%s received", kind), events.SeverityInfo)
	return drv.Execute(ctx, sc), nil
}

func (m *Machine) transition(ctx context.Context, phase Phase, stage Stage, msg string, sev events.Severity) {
	now := m.p.Now()
	m.mu.Lock()
	m.st.Phase = phase
	m.st.Stage = stage
	m.st.Message = msg
	m.st.LastTransition = now
	m.mu.Unlock()

	m.logger.Debug().Str("phase", string(phase)).Str("stage", string(stage)).Msg(msg)
	m.p.Sink.EmitStatus(ctx, events.Status{
		AttemptID: m.p.AttemptID,
		Stage:     string(stage),
		Phase:     string(phase),
		Message:   msg,
		Severity:  sev,
		Timestamp: now,
	})
}

func (m *Machine) setRetries(counts map[string]int) {
	m.mu.Lock()
	m.st.Retries = counts
	m.mu.Unlock()
}

func (m *Machine) cancelled(ctx context.Context, stage Stage) State {
	return m.finish(ctx, PhaseCancelled, stage, ReasonCancelled, ErrCancelled, "Attempt cancelled by operator")
}

// finish records the terminal state and reports it once.
func (m *Machine) finish(ctx context.Context, phase Phase, stage Stage, reason Reason, err error, msg string) State {
	now := m.p.Now()
	m.mu.Lock()
	m.st.Phase = phase
	m.st.Stage = stage
	m.st.Reason = reason
	m.st.Message = msg
	m.st.Err = err
	if err != nil {
		m.st.Error = err.Error()
	}
	m.st.LastTransition = now
	m.st.FinishedAt = now
	m.mu.Unlock()

	sev := events.SeveritySuccess
	switch phase {
	case PhaseFailed:
		sev = events.SeverityError
	case PhaseCancelled:
		sev = events.SeverityWarning
	}
	metrics.AttemptsTotal.WithLabelValues(string(phase), string(reason)).Inc()

	ev := m.logger.Info()
	if phase == PhaseFailed {
		ev = m.logger.Warn().Err(err)
	}
	ev.Str("phase", string(phase)).Str("stage", string(stage)).Str("reason", string(reason)).Msg(msg)

	m.p.Sink.EmitStatus(context.WithoutCancel(ctx), events.Status{
		AttemptID: m.p.AttemptID,
		Stage:     string(stage),
		Phase:     string(phase),
		Message:   msg,
		Severity:  sev,
		Reason:    string(reason),
		Timestamp: now,
	})
	return m.State()
}

func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, retry.ErrWindowExpired):
		return ReasonWindowExpired
	case errors.Is(err, retry.ErrRetriesExhausted):
		return ReasonRetriesExhausted
	default:
		return ReasonNonRetryable
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
