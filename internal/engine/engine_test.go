package engine

import (
	"context"
	"errors"
	"io"
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
	"github.com/example/tatkal-scheduler/internal/guard"
	"github.com/example/tatkal-scheduler/internal/retry"
	"github.com/example/tatkal-scheduler/internal/session"
)

func validRequest() booking.Request {
	return booking.Request{
		Journey: booking.Journey{
			Origin:      "NDLS",
			Destination: "MMCT",
			Date:        time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC),
			Class:       booking.ClassSleeper,
		},
		Passengers:    []booking.Passenger{{Name: "Asha Rao", Age: 34, Gender: booking.GenderFemale}},
		CredentialRef: "primary",
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type fakeFactory struct {
	drivers func() session.Drivers
	err     error
	closed  atomic.Int32
}

func (f *fakeFactory) NewSession(context.Context, string, booking.Request) (session.Drivers, io.Closer, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.drivers(), closerFunc(func() error { f.closed.Add(1); return nil }), nil
}

func advanceAll() session.Drivers {
	d := session.Drivers{}
	for _, s := range session.Pipeline {
		d[s] = session.DriverFunc(func(context.Context, *session.StageContext) session.Result { return session.Advance() })
	}
	return d
}

type fakeArchive struct {
	mu     sync.Mutex
	states []session.State
}

func (f *fakeArchive) Archive(_ context.Context, st session.State, _ booking.Request) error {
	f.mu.Lock()
	f.states = append(f.states, st)
	f.mu.Unlock()
	return nil
}

func (f *fakeArchive) all() []session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.State(nil), f.states...)
}

type checkpointSink struct {
	events.Discard
	ch chan checkpoint.Request
}

func (s checkpointSink) CheckpointRequested(_ context.Context, req checkpoint.Request) { s.ch <- req }

func newEngine(f AutomationFactory, sink events.Sink, arch Archiver) (*Engine, *guard.Guard) {
	nop := zerolog.Nop()
	g := &guard.Guard{}
	return New(Options{
		Guard:    g,
		Sink:     sink,
		Factory:  f,
		Archiver: arch,
		Session: session.Config{
			Policy: retry.Policy{Default: retry.StagePolicy{MaxRetries: 1}},
		},
		Logger: &nop,
	}), g
}

func TestConcurrentStartNowAdmitsExactlyOne(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := checkpointSink{ch: make(chan checkpoint.Request, 4)}
	e, g := newEngine(&fakeFactory{drivers: advanceAll}, sink, nil)
	defer e.Close()

	const n = 16
	var started, rejected atomic.Int32
	var wg sync.WaitGroup
	gate := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			_, err := e.StartNow(context.Background(), validRequest())
			switch {
			case err == nil:
				started.Add(1)
			case errors.Is(err, guard.ErrConcurrentAttempt):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, int32(n-1), rejected.Load())
	assert.Equal(t, uint64(1), g.Stats().Admitted)
}

func TestCancelRunningAttemptReleasesOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := checkpointSink{ch: make(chan checkpoint.Request, 4)}
	f := &fakeFactory{drivers: advanceAll}
	arch := &fakeArchive{}
	e, g := newEngine(f, sink, arch)

	id, err := e.StartNow(context.Background(), validRequest())
	require.NoError(t, err)

	req := <-sink.ch
	assert.Equal(t, id, req.AttemptID)
	snap := e.Status()
	require.True(t, snap.Active)
	require.Len(t, snap.Checkpoints, 1)
	assert.True(t, snap.Attempt.WaitingForInput())

	assert.True(t, e.Cancel())
	e.Wait()

	assert.Equal(t, guard.Stats{Admitted: 1, Released: 1}, g.Stats())
	assert.False(t, e.Cancel(), "nothing left to cancel")
	assert.Equal(t, int32(1), f.closed.Load())

	snap = e.Status()
	assert.False(t, snap.Active)
	assert.Equal(t, session.PhaseCancelled, snap.Attempt.Phase)
	assert.Empty(t, snap.Checkpoints)
	assert.False(t, e.SubmitCheckpoint(req.ID, "late"))

	states := arch.all()
	require.Len(t, states, 1)
	assert.Equal(t, session.ReasonCancelled, states[0].Reason)

	e.Close()
	assert.Equal(t, guard.Stats{Admitted: 1, Released: 1}, g.Stats())
}

// blockingFactory hands out a login driver that blocks until the session
// is closed, like a browser call that ignores the attempt context.
type blockingFactory struct {
	entered chan struct{}
	closed  chan struct{}
	closes  atomic.Int32
}

func newBlockingFactory() *blockingFactory {
	return &blockingFactory{entered: make(chan struct{}), closed: make(chan struct{})}
}

func (f *blockingFactory) NewSession(context.Context, string, booking.Request) (session.Drivers, io.Closer, error) {
	d := advanceAll()
	d[session.StageLoggingIn] = session.DriverFunc(func(context.Context, *session.StageContext) session.Result {
		close(f.entered)
		select {
		case <-f.closed:
			return session.Fatal("target closed")
		case <-time.After(time.Minute):
			return session.Advance()
		}
	})
	return d, closerFunc(func() error {
		if f.closes.Add(1) == 1 {
			close(f.closed)
		}
		return nil
	}), nil
}

func TestCancelInterruptsBlockedStage(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newBlockingFactory()
	e, g := newEngine(f, events.Discard{}, nil)
	defer e.Close()

	_, err := e.StartNow(context.Background(), validRequest())
	require.NoError(t, err)
	<-f.entered

	start := time.Now()
	require.True(t, e.Cancel())
	e.Wait()

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, guard.Stats{Admitted: 1, Released: 1}, g.Stats())
	assert.Equal(t, int32(1), f.closes.Load())
	st := e.Status().Attempt
	assert.Equal(t, session.PhaseCancelled, st.Phase)
	assert.Equal(t, session.ReasonCancelled, st.Reason)
}

type slowArchive struct {
	entered chan struct{}
	proceed chan struct{}
}

func (a *slowArchive) Archive(ctx context.Context, _ session.State, _ booking.Request) error {
	select {
	case a.entered <- struct{}{}:
	default:
	}
	select {
	case <-a.proceed:
	case <-ctx.Done():
	}
	return nil
}

func TestGuardFreeWhileArchiving(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := &fakeFactory{drivers: func() session.Drivers {
		d := advanceAll()
		d[session.StageLoggingIn] = session.DriverFunc(func(context.Context, *session.StageContext) session.Result {
			return session.Fatal("invalid credentials")
		})
		return d
	}}
	arch := &slowArchive{entered: make(chan struct{}, 1), proceed: make(chan struct{})}
	e, g := newEngine(f, events.Discard{}, arch)

	_, err := e.StartNow(context.Background(), validRequest())
	require.NoError(t, err)
	<-arch.entered

	assert.False(t, e.Status().Active)
	assert.Equal(t, guard.Stats{Admitted: 1, Released: 1}, g.Stats())

	// the next attempt is admitted while the first is still archiving
	_, err = e.StartNow(context.Background(), validRequest())
	require.NoError(t, err)

	close(arch.proceed)
	e.Close()
	assert.Equal(t, guard.Stats{Admitted: 2, Released: 2}, g.Stats())
}

func TestAttemptRunsToSuccessThroughCheckpoints(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := checkpointSink{ch: make(chan checkpoint.Request, 4)}
	arch := &fakeArchive{}
	e, g := newEngine(&fakeFactory{drivers: advanceAll}, sink, arch)
	defer e.Close()

	_, err := e.StartNow(context.Background(), validRequest())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		req := <-sink.ch
		got, ok := e.Checkpoint(req.ID)
		require.True(t, ok)
		assert.Equal(t, req.Kind, got.Kind)
		require.True(t, e.SubmitCheckpoint(req.ID, "ok"))
	}
	e.Wait()

	assert.Equal(t, session.PhaseSucceeded, e.Status().Attempt.Phase)
	assert.Equal(t, guard.Stats{Admitted: 1, Released: 1}, g.Stats())
	require.Len(t, arch.all(), 1)

	// the guard is free again
	_, err = e.StartNow(context.Background(), validRequest())
	require.NoError(t, err)
	e.Cancel()
	e.Wait()
}

func TestFactoryErrorFailsAndReleases(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	arch := &fakeArchive{}
	e, g := newEngine(&fakeFactory{err: errors.New("browser not installed")}, events.Discard{}, arch)
	defer e.Close()

	_, err := e.StartNow(context.Background(), validRequest())
	require.NoError(t, err)
	e.Wait()

	st := e.Status().Attempt
	assert.Equal(t, session.PhaseFailed, st.Phase)
	assert.Contains(t, st.Error, "browser not installed")
	assert.Equal(t, guard.Stats{Admitted: 1, Released: 1}, g.Stats())
	assert.Len(t, arch.all(), 1)
}

func TestInvalidRequestNeverTouchesGuard(t *testing.T) {
	e, g := newEngine(&fakeFactory{drivers: advanceAll}, events.Discard{}, nil)
	defer e.Close()

	req := validRequest()
	req.Passengers = nil
	_, err := e.StartNow(context.Background(), req)
	assert.ErrorIs(t, err, booking.ErrInvalidRequest)
	assert.Equal(t, guard.Stats{}, g.Stats())
}

func TestClosedEngineRejects(t *testing.T) {
	e, _ := newEngine(&fakeFactory{drivers: advanceAll}, events.Discard{}, nil)
	e.Close()
	_, err := e.StartScheduled(context.Background(), validRequest(), "sched-1")
	assert.ErrorIs(t, err, ErrClosed)
}
