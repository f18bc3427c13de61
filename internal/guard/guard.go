// Package guard enforces a single live booking attempt per process.
package guard

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrConcurrentAttempt is returned when an attempt is already active.
// Rejections are never queued; the caller decides whether to try later.
var ErrConcurrentAttempt = errors.New("another booking attempt is already active")

// Guard is the single "attempt active" flag. The zero value is ready to use.
type Guard struct {
	mu     sync.Mutex
	active *Lease

	admitted atomic.Uint64
	released atomic.Uint64
}

// Stats counts admissions and releases since start. Outside an attempt the
// two are equal.
type Stats struct {
	Admitted uint64 `json:"admitted"`
	Released uint64 `json:"released"`
}

// Lease is held by the admitted attempt until Release.
type Lease struct {
	Holder     string
	AdmittedAt time.Time

	g    *Guard
	once sync.Once
}

// TryAdmit atomically claims the flag for holder.
func (g *Guard) TryAdmit(holder string) (*Lease, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active != nil {
		return nil, ErrConcurrentAttempt
	}
	l := &Lease{Holder: holder, AdmittedAt: time.Now(), g: g}
	g.active = l
	g.admitted.Add(1)
	return l, nil
}

func (g *Guard) Stats() Stats {
	return Stats{Admitted: g.admitted.Load(), Released: g.released.Load()}
}

// Active returns the current holder, if any.
func (g *Guard) Active() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return "", false
	}
	return g.active.Holder, true
}

// Release clears the flag. Only the first call has any effect; it reports
// whether this call was the one that released.
func (l *Lease) Release() bool {
	released := false
	l.once.Do(func() {
		l.g.mu.Lock()
		defer l.g.mu.Unlock()
		if l.g.active == l {
			l.g.active = nil
		}
		l.g.released.Add(1)
		released = true
	})
	return released
}
