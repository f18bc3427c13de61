// Package events carries status and checkpoint notifications from the
// booking core to the operator.
package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/tatkal-scheduler/internal/checkpoint"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// Status describes one transition of an attempt or a scheduler event.
type Status struct {
	AttemptID string    `json:"attempt_id,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives everything the core wants the outside world to see. Calls
// are synchronous and must not block for long.
type Sink interface {
	EmitStatus(ctx context.Context, st Status)
	CheckpointRequested(ctx context.Context, req checkpoint.Request)
}

// Multi fans out to several sinks in order.
type Multi []Sink

func (m Multi) EmitStatus(ctx context.Context, st Status) {
	for _, s := range m {
		s.EmitStatus(ctx, st)
	}
}

func (m Multi) CheckpointRequested(ctx context.Context, req checkpoint.Request) {
	for _, s := range m {
		s.CheckpointRequested(ctx, req)
	}
}

// LogSink writes every event to a zerolog logger.
type LogSink struct {
	Logger zerolog.Logger
}

func (l LogSink) EmitStatus(_ context.Context, st Status) {
	var ev *zerolog.Event
	switch st.Severity {
	case SeverityError:
		ev = l.Logger.Error()
	case SeverityWarning:
		ev = l.Logger.Warn()
	default:
		ev = l.Logger.Info()
	}
	ev.Str("attempt_id", st.AttemptID).
		Str("phase", st.Phase).
		Str("stage", st.Stage).
		Str("reason", st.Reason).
		Msg(st.Message)
}

func (l LogSink) CheckpointRequested(_ context.Context, req checkpoint.Request) {
	l.Logger.Info().
		Str("attempt_id", req.AttemptID).
		Str("checkpoint_id", req.ID).
		Str("kind", string(req.Kind)).
		Time("deadline", req.Deadline).
		Msg("waiting for operator input")
}

// Discard drops everything.
type Discard struct{}

func (Discard) EmitStatus(context.Context, Status)                      {}
func (Discard) CheckpointRequested(context.Context, checkpoint.Request) {}
