package checkpoint

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/example/tatkal-scheduler/internal/log"
)

type recordingNotifier struct {
	mu   sync.Mutex
	reqs []Request
	ch   chan Request
}

func newRecorder() *recordingNotifier {
	return &recordingNotifier{ch: make(chan Request, 8)}
}

func (r *recordingNotifier) CheckpointRequested(_ context.Context, req Request) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	r.ch <- req
}

func TestRequestResolvedBySubmit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	n := newRecorder()
	c := NewCoordinator(n)
	ctx := log.ContextWithAttemptID(context.Background(), "att-1")

	type result struct {
		v   string
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := c.Request(ctx, KindCaptcha, Payload{Image: []byte{0x89}, ContentType: "image/png"}, time.Now().Add(5*time.Second))
		done <- result{v, err}
	}()

	req := <-n.ch
	assert.Equal(t, KindCaptcha, req.Kind)
	assert.Equal(t, "att-1", req.AttemptID)
	assert.True(t, req.HasImage)
	require.Len(t, c.Pending(), 1)

	got, ok := c.Get(req.ID)
	require.True(t, ok)
	assert.Equal(t, []byte{0x89}, got.Payload.Image)

	assert.False(t, c.Submit("not-an-id", "x"))
	assert.True(t, c.Submit(req.ID, "AB12C"))
	assert.False(t, c.Submit(req.ID, "again"), "duplicate submit must be a no-op")

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, "AB12C", r.v)
	assert.Empty(t, c.Pending())
}

func TestRequestTimesOutAtDeadline(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := NewCoordinator(nil)
	start := time.Now()
	_, err := c.Request(context.Background(), KindOTP, Payload{}, start.Add(150*time.Millisecond))
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Empty(t, c.Pending())
}

func TestLateSubmitIsIgnored(t *testing.T) {
	n := newRecorder()
	c := NewCoordinator(n)

	_, err := c.Request(context.Background(), KindOTP, Payload{}, time.Now().Add(20*time.Millisecond))
	require.ErrorIs(t, err, ErrTimeout)

	req := <-n.ch
	assert.False(t, c.Submit(req.ID, "123456"))
}

func TestRequestCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	n := newRecorder()
	c := NewCoordinator(n)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := c.Request(ctx, KindPayment, Payload{Message: "approve on phone"}, time.Now().Add(time.Minute))
		errc <- err
	}()
	req := <-n.ch
	cancel()

	err := <-errc
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, c.Submit(req.ID, "ok"))
}

func TestCoordinatorDoesNotBlockOthers(t *testing.T) {
	n := newRecorder()
	c := NewCoordinator(n)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _, _ = c.Request(ctx, KindCaptcha, Payload{}, time.Now().Add(time.Minute)) }()
	<-n.ch

	// status reads stay responsive while a checkpoint is outstanding
	done := make(chan struct{})
	go func() {
		_ = c.Pending()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pending blocked while a checkpoint was outstanding")
	}
}
