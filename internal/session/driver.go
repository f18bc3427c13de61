package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/tatkal-scheduler/internal/booking"
	"github.com/example/tatkal-scheduler/internal/checkpoint"
	"github.com/example/tatkal-scheduler/internal/credentials"
	"github.com/example/tatkal-scheduler/internal/retry"
)

type resultKind int

const (
	resultAdvance resultKind = iota
	resultRetry
	resultFatal
)

// Result is what a driver reports for one execution of a stage.
type Result struct {
	kind   resultKind
	Class  retry.Class
	Reason string
	Err    error
}

// Advance moves on to the next stage.
func Advance() Result { return Result{kind: resultAdvance} }

// Retry asks for the stage to be run again; the policy decides whether and
// when.
func Retry(class retry.Class, reason string) Result {
	return Result{kind: resultRetry, Class: class, Reason: reason}
}

// Fatal ends the attempt. It is shorthand for a NonRetryable failure.
func Fatal(reason string) Result {
	return Result{kind: resultFatal, Class: retry.NonRetryable, Reason: reason}
}

// WithErr attaches the underlying error for logs and history.
func (r Result) WithErr(err error) Result {
	r.Err = err
	return r
}

func (r Result) IsAdvance() bool { return r.kind == resultAdvance }

func (r Result) String() string {
	switch r.kind {
	case resultAdvance:
		return "advance"
	case resultRetry:
		return fmt.Sprintf("retry(%s: %s)", r.Class, r.Reason)
	default:
		return fmt.Sprintf("fatal(%s)", r.Reason)
	}
}

// CredentialStore returns decrypted credentials on demand. Callers must
// Wipe the secret when done.
type CredentialStore interface {
	Get(ctx context.Context, ref string) (*credentials.Secret, error)
}

// StageContext is shared by all stages of one attempt.
type StageContext struct {
	AttemptID   string
	Request     booking.Request
	Credentials CredentialStore
	Logger      zerolog.Logger

	// Human is the operator's answer for the current checkpoint stage.
	Human string

	mu     sync.Mutex
	values map[string]string
}

// Set records a value produced by a stage, such as the PNR.
func (sc *StageContext) Set(key, value string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.values == nil {
		sc.values = make(map[string]string)
	}
	sc.values[key] = value
}

func (sc *StageContext) Get(key string) string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.values[key]
}

// ValuePNR is the StageContext key the confirming stage fills.
const ValuePNR = "pnr"

// Driver carries out one stage.
type Driver interface {
	Execute(ctx context.Context, sc *StageContext) Result
}

type DriverFunc func(ctx context.Context, sc *StageContext) Result

func (f DriverFunc) Execute(ctx context.Context, sc *StageContext) Result { return f(ctx, sc) }

// Prompt is what a checkpoint stage shows the operator.
type Prompt struct {
	Payload checkpoint.Payload
	// Skip means the portal did not ask for this checkpoint; the stage
	// advances without operator input.
	Skip bool
}

// Preparer is implemented by checkpoint-stage drivers that need to fetch
// something (a captcha image) before asking the operator.
type Preparer interface {
	Prepare(ctx context.Context, sc *StageContext) (Prompt, Result)
}

// Drivers maps every pipeline stage to its driver.
type Drivers map[Stage]Driver

// Missing lists pipeline stages without a driver.
func (d Drivers) Missing() []Stage {
	var out []Stage
	for _, s := range Pipeline {
		if d[s] == nil {
			out = append(out, s)
		}
	}
	return out
}
