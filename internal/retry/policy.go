// Package retry decides whether a failed booking stage is worth repeating.
//
// Stage drivers only classify their failure; all counting, backoff and
// budget arithmetic lives here.
package retry

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrWindowExpired    = errors.New("booking window expired")
	ErrRetriesExhausted = errors.New("stage retries exhausted")
	ErrNonRetryable     = errors.New("non-retryable stage failure")
)

// Class is a stage failure classification.
type Class int

const (
	// Transient covers network hiccups and elements that are not ready yet.
	Transient Class = iota
	// RateLimited means the portal asked us to slow down.
	RateLimited
	// NonRetryable fails the attempt immediately.
	NonRetryable
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case NonRetryable:
		return "non_retryable"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// StagePolicy bounds retries for one stage.
type StagePolicy struct {
	MaxRetries       int           `yaml:"max_retries"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff"`
	// Jitter is the randomization factor applied to transient backoff (0..1).
	Jitter float64 `yaml:"jitter"`
}

// Policy is the default stage policy plus per-stage overrides keyed by
// stage name.
type Policy struct {
	Default StagePolicy            `yaml:"default"`
	Stages  map[string]StagePolicy `yaml:"stages"`
}

// DefaultPolicy is tuned for a window that lasts a few minutes.
func DefaultPolicy() Policy {
	return Policy{
		Default: StagePolicy{
			MaxRetries:       3,
			InitialBackoff:   250 * time.Millisecond,
			MaxBackoff:       2 * time.Second,
			RateLimitBackoff: 5 * time.Second,
			Jitter:           0.2,
		},
		Stages: map[string]StagePolicy{
			"searching_trains": {
				MaxRetries:       6,
				InitialBackoff:   200 * time.Millisecond,
				MaxBackoff:       1500 * time.Millisecond,
				RateLimitBackoff: 5 * time.Second,
				Jitter:           0.2,
			},
		},
	}
}

// For returns the policy for stage, falling back to Default.
func (p Policy) For(stage string) StagePolicy {
	if sp, ok := p.Stages[stage]; ok {
		return sp
	}
	return p.Default
}

// Validate rejects policies that can never make progress.
func (p Policy) Validate() error {
	check := func(name string, sp StagePolicy) error {
		if sp.MaxRetries < 0 {
			return fmt.Errorf("retry %s: max_retries must be >= 0", name)
		}
		if sp.InitialBackoff < 0 || sp.MaxBackoff < 0 || sp.RateLimitBackoff < 0 {
			return fmt.Errorf("retry %s: backoff durations must be >= 0", name)
		}
		if sp.MaxBackoff > 0 && sp.InitialBackoff > sp.MaxBackoff {
			return fmt.Errorf("retry %s: initial_backoff exceeds max_backoff", name)
		}
		if sp.Jitter < 0 || sp.Jitter > 1 {
			return fmt.Errorf("retry %s: jitter must be within [0,1]", name)
		}
		return nil
	}
	if err := check("default", p.Default); err != nil {
		return err
	}
	for name, sp := range p.Stages {
		if err := check(name, sp); err != nil {
			return err
		}
	}
	return nil
}
