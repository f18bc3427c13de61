package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/example/tatkal-scheduler/internal/booking"
	"github.com/example/tatkal-scheduler/internal/checkpoint"
	"github.com/example/tatkal-scheduler/internal/events"
	"github.com/example/tatkal-scheduler/internal/retry"
)

type recordingSink struct {
	mu          sync.Mutex
	statuses    []events.Status
	checkpoints chan checkpoint.Request
}

func newSink() *recordingSink {
	return &recordingSink{checkpoints: make(chan checkpoint.Request, 16)}
}

func (s *recordingSink) EmitStatus(_ context.Context, st events.Status) {
	s.mu.Lock()
	s.statuses = append(s.statuses, st)
	s.mu.Unlock()
}

func (s *recordingSink) CheckpointRequested(_ context.Context, req checkpoint.Request) {
	s.checkpoints <- req
}

func (s *recordingSink) Statuses() []events.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Status(nil), s.statuses...)
}

func advanceAll() Drivers {
	d := Drivers{}
	for _, s := range Pipeline {
		d[s] = DriverFunc(func(context.Context, *StageContext) Result { return Advance() })
	}
	return d
}

func testPolicy(maxRetries int) retry.Policy {
	return retry.Policy{Default: retry.StagePolicy{
		MaxRetries:       maxRetries,
		InitialBackoff:   10 * time.Millisecond,
		MaxBackoff:       40 * time.Millisecond,
		RateLimitBackoff: time.Second,
	}}
}

func newMachine(drivers Drivers, sink *recordingSink, cfg Config) (*Machine, *checkpoint.Coordinator) {
	nop := zerolog.Nop()
	coord := checkpoint.NewCoordinator(sink)
	m := New(Params{
		AttemptID:   "att-1",
		Request:     booking.Request{Journey: booking.Journey{Origin: "NDLS", Destination: "MMCT", Class: booking.ClassSleeper}},
		Drivers:     drivers,
		Checkpoints: coord,
		Sink:        sink,
		Config:      cfg,
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
		Logger:      &nop,
	})
	return m, coord
}

// answer replies to every checkpoint with a value derived from its kind.
func answer(coord *checkpoint.Coordinator, sink *recordingSink, stop <-chan struct{}) {
	for {
		select {
		case req := <-sink.checkpoints:
			coord.Submit(req.ID, "answer-"+string(req.Kind))
		case <-stop:
			return
		}
	}
}

func TestHappyPathReachesSucceeded(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	drivers := advanceAll()
	var got sync.Map
	for _, s := range []Stage{StageAwaitingCaptcha, StageAwaitingOTP, StageAwaitingPayment} {
		s := s
		drivers[s] = DriverFunc(func(_ context.Context, sc *StageContext) Result {
			got.Store(s, sc.Human)
			return Advance()
		})
	}
	drivers[StageConfirming] = DriverFunc(func(_ context.Context, sc *StageContext) Result {
		sc.Set(ValuePNR, "4521896370")
		return Advance()
	})

	sink := newSink()
	m, coord := newMachine(drivers, sink, Config{Policy: testPolicy(2)})
	stop := make(chan struct{})
	go answer(coord, sink, stop)
	defer close(stop)

	st := m.Run(context.Background())
	require.Equal(t, PhaseSucceeded, st.Phase, st.Error)
	assert.Equal(t, "4521896370", st.PNR)
	assert.Equal(t, ReasonNone, st.Reason)
	assert.False(t, st.FinishedAt.IsZero())

	v, _ := got.Load(StageAwaitingOTP)
	assert.Equal(t, "answer-otp", v)

	seen := map[string]bool{}
	for _, ev := range sink.Statuses() {
		seen[ev.Stage] = true
		assert.Equal(t, "att-1", ev.AttemptID)
	}
	for _, s := range Pipeline {
		assert.True(t, seen[string(s)], "no status event for %s", s)
	}
	last := sink.Statuses()[len(sink.Statuses())-1]
	assert.Equal(t, string(PhaseSucceeded), last.Phase)
	assert.Equal(t, events.SeveritySuccess, last.Severity)
}

func TestCheckpointTimeoutFailsAttempt(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := newSink()
	m, coord := newMachine(advanceAll(), sink, Config{
		Policy:            testPolicy(3),
		CheckpointTimeout: map[checkpoint.Kind]time.Duration{checkpoint.KindCaptcha: 150 * time.Millisecond},
	})

	start := time.Now()
	st := m.Run(context.Background())
	elapsed := time.Since(start)

	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, ReasonCheckpointTimeout, st.Reason)
	assert.Equal(t, StageAwaitingCaptcha, st.Stage)
	assert.ErrorIs(t, st.Err, checkpoint.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Empty(t, coord.Pending())

	// the timed out checkpoint was published exactly once
	assert.Len(t, sink.checkpoints, 1)
}

func TestCheckpointDeadlineUsesMachineClock(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	// the machine's clock runs ten minutes behind the local one
	const skew = -10 * time.Minute
	sink := newSink()
	nop := zerolog.Nop()
	m := New(Params{
		AttemptID:   "att-1",
		Drivers:     advanceAll(),
		Checkpoints: checkpoint.NewCoordinator(sink),
		Sink:        sink,
		Config: Config{
			Policy:            testPolicy(1),
			CheckpointTimeout: map[checkpoint.Kind]time.Duration{checkpoint.KindCaptcha: 10*time.Minute + 100*time.Millisecond},
		},
		Now:    func() time.Time { return time.Now().Add(skew) },
		Logger: &nop,
	})

	before := time.Now()
	st := m.Run(context.Background())
	assert.Less(t, time.Since(before), 5*time.Second)

	assert.Equal(t, ReasonCheckpointTimeout, st.Reason)
	req := <-sink.checkpoints
	assert.WithinDuration(t, before.Add(100*time.Millisecond), req.Deadline, time.Second)
}

func TestRetriesNeverExceedStageMaximum(t *testing.T) {
	var calls atomic.Int32
	drivers := advanceAll()
	drivers[StageLoggingIn] = DriverFunc(func(context.Context, *StageContext) Result {
		calls.Add(1)
		return Retry(retry.Transient, "login form not ready")
	})

	sink := newSink()
	m, _ := newMachine(drivers, sink, Config{Policy: testPolicy(2)})
	st := m.Run(context.Background())

	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, ReasonRetriesExhausted, st.Reason)
	assert.ErrorIs(t, st.Err, retry.ErrRetriesExhausted)
	assert.Equal(t, 2, st.Retries["logging_in"])
	assert.Equal(t, int32(3), calls.Load())

	var retrying int
	for _, ev := range sink.Statuses() {
		if ev.Phase == string(PhaseRetrying) {
			retrying++
		}
	}
	assert.Equal(t, 2, retrying)
}

func TestRetryCountersResetPerStage(t *testing.T) {
	flaky := func() Driver {
		var n atomic.Int32
		return DriverFunc(func(context.Context, *StageContext) Result {
			if n.Add(1) == 1 {
				return Retry(retry.Transient, "timeout")
			}
			return Advance()
		})
	}
	drivers := advanceAll()
	drivers[StageLoggingIn] = flaky()
	drivers[StageSearchingTrains] = flaky()
	drivers[StageAwaitingCaptcha] = PreparerFunc(func(context.Context, *StageContext) (Prompt, Result) {
		return Prompt{Skip: true}, Advance()
	})
	drivers[StageAwaitingOTP] = drivers[StageAwaitingCaptcha]
	drivers[StageAwaitingPayment] = drivers[StageAwaitingCaptcha]

	m, _ := newMachine(drivers, newSink(), Config{Policy: testPolicy(1)})
	st := m.Run(context.Background())

	require.Equal(t, PhaseSucceeded, st.Phase, st.Error)
	assert.Equal(t, map[string]int{"logging_in": 1, "searching_trains": 1}, st.Retries)
}

func TestWindowExpiredStopsRetrying(t *testing.T) {
	drivers := advanceAll()
	drivers[StageSearchingTrains] = DriverFunc(func(context.Context, *StageContext) Result {
		return Retry(retry.RateLimited, "too many requests")
	})

	m, _ := newMachine(drivers, newSink(), Config{Policy: testPolicy(5), Budget: 500 * time.Millisecond})
	st := m.Run(context.Background())

	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, ReasonWindowExpired, st.Reason)
	assert.ErrorIs(t, st.Err, retry.ErrWindowExpired)
	assert.Equal(t, StageSearchingTrains, st.Stage)
}

func TestFatalIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	drivers := advanceAll()
	drivers[StageLoggingIn] = DriverFunc(func(context.Context, *StageContext) Result {
		calls.Add(1)
		return Fatal("invalid credentials")
	})

	m, _ := newMachine(drivers, newSink(), Config{Policy: testPolicy(5)})
	st := m.Run(context.Background())

	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, ReasonNonRetryable, st.Reason)
	assert.Contains(t, st.Error, "invalid credentials")
	assert.Equal(t, int32(1), calls.Load())
}

func TestCancelInterruptsCheckpointWait(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := newSink()
	m, coord := newMachine(advanceAll(), sink, Config{Policy: testPolicy(1)})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan State, 1)
	go func() { done <- m.Run(ctx) }()

	req := <-sink.checkpoints
	assert.Equal(t, checkpoint.KindCaptcha, req.Kind)
	assert.True(t, m.State().WaitingForInput())
	cancel()

	select {
	case st := <-done:
		assert.Equal(t, PhaseCancelled, st.Phase)
		assert.Equal(t, ReasonCancelled, st.Reason)
		assert.ErrorIs(t, st.Err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not interrupt the checkpoint wait")
	}
	assert.False(t, coord.Submit(req.ID, "late"))
}

func TestPanickingDriverFailsAttempt(t *testing.T) {
	drivers := advanceAll()
	drivers[StageSelectingBerth] = DriverFunc(func(context.Context, *StageContext) Result {
		panic("nil element")
	})
	m, _ := newMachine(drivers, newSink(), Config{Policy: testPolicy(1)})
	st := m.Run(context.Background())

	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, ReasonNonRetryable, st.Reason)
	assert.Contains(t, st.Error, "driver panic")
}

func TestMissingDriverFails(t *testing.T) {
	drivers := advanceAll()
	delete(drivers, StageConfirming)
	m, _ := newMachine(drivers, newSink(), Config{})
	st := m.Run(context.Background())

	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Contains(t, st.Error, "confirming")
}

type PreparerFunc func(ctx context.Context, sc *StageContext) (Prompt, Result)

func (f PreparerFunc) Prepare(ctx context.Context, sc *StageContext) (Prompt, Result) { return f(ctx, sc) }

func (f PreparerFunc) Execute(context.Context, *StageContext) Result { return Advance() }
