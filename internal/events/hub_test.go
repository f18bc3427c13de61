package events

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tatkal-scheduler/internal/checkpoint"
)

func TestHubDeliversAndKeepsHistory(t *testing.T) {
	h := NewHub(2)
	ctx := context.Background()

	h.EmitStatus(ctx, Status{Phase: "running", Message: "one"})

	sub, hist := h.Subscribe()
	defer sub.Close()
	require.Len(t, hist, 1)
	assert.Equal(t, "one", hist[0].Status.Message)

	h.EmitStatus(ctx, Status{Phase: "running", Message: "two"})
	h.CheckpointRequested(ctx, checkpoint.Request{ID: "cp", Kind: checkpoint.KindOTP, Payload: checkpoint.Payload{Image: []byte{1}}})

	ev := <-sub.C()
	assert.Equal(t, TypeStatus, ev.Type)
	assert.Equal(t, "two", ev.Status.Message)
	ev = <-sub.C()
	assert.Equal(t, TypeCheckpoint, ev.Type)
	assert.Nil(t, ev.Checkpoint.Payload.Image)

	recent := h.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Status.Message)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub(10)
	sub, _ := h.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			h.EmitStatus(context.Background(), Status{Message: "tick"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, sub.C(), subscriberBuffer)
	assert.Equal(t, uint64(subscriberBuffer*2), h.dropped.Load())
}

func TestSubscriptionCloseTwice(t *testing.T) {
	h := NewHub(1)
	sub, _ := h.Subscribe()
	sub.Close()
	sub.Close()
	_, ok := <-sub.C()
	assert.False(t, ok)
	h.EmitStatus(context.Background(), Status{Message: "after close"})
}

func TestMultiAndLogSink(t *testing.T) {
	var buf bytes.Buffer
	h := NewHub(5)
	m := Multi{LogSink{Logger: zerolog.New(&buf)}, h}

	m.EmitStatus(context.Background(), Status{AttemptID: "a1", Phase: "failed", Severity: SeverityError, Reason: "checkpoint_timeout", Message: "captcha not answered"})
	m.CheckpointRequested(context.Background(), checkpoint.Request{ID: "c1", Kind: checkpoint.KindCaptcha})

	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"reason":"checkpoint_timeout"`)
	assert.Contains(t, out, `"checkpoint_id":"c1"`)
	assert.Len(t, h.Recent(), 2)
}
