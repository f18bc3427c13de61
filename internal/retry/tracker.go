package retry

import (
	"fmt"
	"maps"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Decision is the outcome of a failed stage.
type Decision struct {
	Retry   bool
	Wait    time.Duration
	Attempt int // 1-based retry number when Retry is true
	Err     error
}

// Tracker keeps the retry state of one attempt. It is owned by the
// goroutine running the attempt and is not safe for concurrent use.
type Tracker struct {
	policy   Policy
	deadline time.Time

	stage   string
	current int
	bo      *backoff.ExponentialBackOff
	counts  map[string]int
}

// NewTracker returns a tracker whose retries must finish before deadline.
// A zero deadline disables the budget check.
func NewTracker(p Policy, deadline time.Time) *Tracker {
	return &Tracker{policy: p, deadline: deadline, counts: make(map[string]int)}
}

// Deadline is the attempt's wall-clock budget.
func (t *Tracker) Deadline() time.Time { return t.deadline }

// Advance resets the per-stage counter and backoff for the next stage.
func (t *Tracker) Advance(stage string) {
	t.stage = stage
	t.current = 0
	t.bo = nil
}

// Decide classifies a failure of stage at now.
func (t *Tracker) Decide(stage string, class Class, now time.Time) Decision {
	if stage != t.stage {
		t.Advance(stage)
	}
	if class == NonRetryable {
		return Decision{Err: ErrNonRetryable}
	}

	sp := t.policy.For(stage)
	if t.current >= sp.MaxRetries {
		return Decision{Err: fmt.Errorf("%w: %s after %d retries", ErrRetriesExhausted, stage, t.current)}
	}

	var wait time.Duration
	switch class {
	case RateLimited:
		wait = sp.RateLimitBackoff
	default:
		wait = t.nextBackoff(sp)
	}

	if !t.deadline.IsZero() && now.Add(wait).After(t.deadline) {
		return Decision{Err: fmt.Errorf("%w: %s backoff %s exceeds remaining %s",
			ErrWindowExpired, stage, wait, t.deadline.Sub(now).Round(time.Millisecond))}
	}

	t.current++
	t.counts[stage]++
	return Decision{Retry: true, Wait: wait, Attempt: t.current}
}

func (t *Tracker) nextBackoff(sp StagePolicy) time.Duration {
	if sp.InitialBackoff <= 0 {
		return 0
	}
	if t.bo == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = sp.InitialBackoff
		b.RandomizationFactor = sp.Jitter
		b.Multiplier = 2
		b.MaxInterval = sp.MaxBackoff
		if b.MaxInterval <= 0 {
			b.MaxInterval = sp.InitialBackoff
		}
		b.Reset()
		t.bo = b
	}
	// jitter is applied after MaxInterval, so clamp again
	d := t.bo.NextBackOff()
	if d < 0 || d > t.bo.MaxInterval {
		d = t.bo.MaxInterval
	}
	return d
}

// Counts returns the retries spent so far, per stage.
func (t *Tracker) Counts() map[string]int {
	return maps.Clone(t.counts)
}
