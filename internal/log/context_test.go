package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextWithAttemptID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		id   string
		want string
	}{
		{name: "nil context", ctx: nil, id: "att-1", want: "att-1"},
		{name: "background context", ctx: context.Background(), id: "att-2", want: "att-2"},
		{name: "empty id", ctx: context.Background(), id: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithAttemptID(tt.ctx, tt.id)
			if got := AttemptIDFromContext(ctx); got != tt.want {
				t.Errorf("AttemptIDFromContext() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := ContextWithAttemptID(context.Background(), "att-9")
	ctx = ContextWithRequestID(ctx, "req-3")

	l := WithContext(ctx, logger)
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["attempt_id"] != "att-9" {
		t.Errorf("attempt_id = %v, want att-9", entry["attempt_id"])
	}
	if entry["request_id"] != "req-3" {
		t.Errorf("request_id = %v, want req-3", entry["request_id"])
	}
}

func TestWithContextWithoutFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	l := WithContext(context.Background(), logger)
	l.Info().Msg("plain")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if _, ok := entry["attempt_id"]; ok {
		t.Errorf("unexpected attempt_id field in %v", entry)
	}
}
