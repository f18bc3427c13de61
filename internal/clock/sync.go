// Package clock estimates the offset between the local clock and true time
// and answers "what time is it really" for the scheduler.
package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/example/tatkal-scheduler/internal/log"
	"github.com/example/tatkal-scheduler/internal/metrics"
)

var (
	ErrTimeSourceUnreachable = errors.New("no time source reachable")
	// ErrOffsetTooStale is returned by Trusted when the last good offset is
	// older than MaxAge and a resync failed.
	ErrOffsetTooStale = errors.New("clock offset too stale to trust")
)

// maxDrift bounds the drift estimate; anything larger is measurement noise.
const maxDrift = 500e-6

// Offset is the best known estimate of (true time - local time).
type Offset struct {
	Value       time.Duration `json:"value"`
	SyncedAt    time.Time     `json:"synced_at"`
	Uncertainty time.Duration `json:"uncertainty"`
	// Drift is the rate at which Value changes, in seconds per second.
	Drift  float64 `json:"drift"`
	Source string  `json:"source"`
	Stale  bool    `json:"stale"`
}

// Age reports how long ago the offset was measured.
func (o Offset) Age(now time.Time) time.Duration {
	if o.SyncedAt.IsZero() {
		return 0
	}
	return now.Sub(o.SyncedAt)
}

// Options configures a Synchronizer.
type Options struct {
	Sources []Source
	// QueryTimeout bounds a whole sync round across all sources.
	QueryTimeout time.Duration
	// Interval is the background resync period.
	Interval time.Duration
	// StaleAfter marks an offset stale; Trusted resyncs before returning one.
	StaleAfter time.Duration
	// MaxAge is the oldest offset Trusted will return when resync fails.
	MaxAge time.Duration
	// SamplesPerSource queries each source this many times and keeps the
	// lowest round trip.
	SamplesPerSource int

	Now    func() time.Time
	Logger *zerolog.Logger
}

// Synchronizer holds the process-wide clock offset.
type Synchronizer struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
	sf     singleflight.Group

	mu     sync.RWMutex
	cur    Offset
	synced bool
}

func New(opts Options) *Synchronizer {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 5 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 2 * opts.Interval
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 6 * opts.StaleAfter
	}
	if opts.SamplesPerSource <= 0 {
		opts.SamplesPerSource = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := log.WithComponent("clock")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Synchronizer{opts: opts, now: now, logger: logger}
}

// Current returns the best known offset and whether any sync ever succeeded.
func (s *Synchronizer) Current() (Offset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o := s.cur
	if s.synced && o.Age(s.now()) > s.opts.StaleAfter {
		o.Stale = true
	}
	return o, s.synced
}

// TrueNow applies the best known offset and drift to the local clock. It
// never blocks on the network.
func (s *Synchronizer) TrueNow() time.Time {
	local := s.now()
	s.mu.RLock()
	o, ok := s.cur, s.synced
	s.mu.RUnlock()
	if !ok {
		return local
	}
	corr := o.Value
	if o.Drift != 0 {
		corr += time.Duration(o.Drift * float64(local.Sub(o.SyncedAt)))
	}
	return local.Add(corr)
}

// Sync measures the offset now. Concurrent callers share one round. On
// failure the previous offset is kept, marked stale, and returned together
// with an error wrapping ErrTimeSourceUnreachable.
func (s *Synchronizer) Sync(ctx context.Context) (Offset, error) {
	ch := s.sf.DoChan("sync", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.QueryTimeout)
		defer cancel()
		return s.round(rctx)
	})
	select {
	case <-ctx.Done():
		o, _ := s.Current()
		return o, ctx.Err()
	case r := <-ch:
		return r.Val.(Offset), r.Err
	}
}

func (s *Synchronizer) round(ctx context.Context) (Offset, error) {
	if len(s.opts.Sources) == 0 {
		return s.fail(errors.New("no sources configured"))
	}

	var errs []error
	for _, src := range s.opts.Sources {
		sample, err := s.best(ctx, src)
		if err != nil {
			metrics.ClockSyncFailuresTotal.WithLabelValues(src.Name()).Inc()
			errs = append(errs, err)
			continue
		}
		return s.accept(src.Name(), sample), nil
	}
	return s.fail(errors.Join(errs...))
}

func (s *Synchronizer) best(ctx context.Context, src Source) (Sample, error) {
	var (
		best Sample
		got  bool
		last error
	)
	for i := 0; i < s.opts.SamplesPerSource; i++ {
		sample, err := src.Query(ctx)
		if err != nil {
			last = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if !got || sample.RTT < best.RTT {
			best, got = sample, true
		}
	}
	if !got {
		return Sample{}, last
	}
	return best, nil
}

func (s *Synchronizer) accept(source string, sample Sample) Offset {
	now := s.now()
	uncertainty := sample.RTT / 2
	if sample.Precision > uncertainty {
		uncertainty = sample.Precision
	}

	s.mu.Lock()
	prev, hadPrev := s.cur, s.synced
	o := Offset{
		Value:       sample.Offset,
		SyncedAt:    now,
		Uncertainty: uncertainty,
		Source:      source,
	}
	if hadPrev && prev.Source == source && !prev.SyncedAt.IsZero() {
		if elapsed := now.Sub(prev.SyncedAt); elapsed >= time.Minute {
			o.Drift = clampDrift(float64(o.Value-prev.Value) / float64(elapsed))
		} else {
			o.Drift = prev.Drift
		}
	}
	s.cur, s.synced = o, true
	s.mu.Unlock()

	metrics.ClockOffsetSeconds.Set(o.Value.Seconds())
	metrics.ClockStale.Set(0)
	s.logger.Debug().
		Str("source", source).
		Dur("offset", o.Value).
		Dur("uncertainty", o.Uncertainty).
		Float64("drift_ppm", o.Drift*1e6).
		Msg("clock synced")
	return o
}

func (s *Synchronizer) fail(cause error) (Offset, error) {
	s.mu.Lock()
	s.cur.Stale = s.synced
	o := s.cur
	s.mu.Unlock()

	metrics.ClockStale.Set(1)
	return o, fmt.Errorf("%w: %w", ErrTimeSourceUnreachable, cause)
}

// Trusted returns an offset fit for arming a schedule. Offsets older than
// StaleAfter are resynced first. A failed resync degrades to the old offset
// while it is younger than MaxAge; the first-ever sync must succeed.
func (s *Synchronizer) Trusted(ctx context.Context) (Offset, error) {
	o, ok := s.Current()
	if ok && !o.Stale {
		return o, nil
	}
	fresh, err := s.Sync(ctx)
	if err == nil {
		return fresh, nil
	}
	if !ok {
		return Offset{}, err
	}
	if fresh.Age(s.now()) > s.opts.MaxAge {
		return fresh, fmt.Errorf("%w: last sync %s ago: %w", ErrOffsetTooStale, fresh.Age(s.now()).Round(time.Second), err)
	}
	s.logger.Warn().Err(err).Dur("age", fresh.Age(s.now())).Msg("using stale clock offset")
	return fresh, nil
}

// Run resyncs every Interval until ctx is done. Failures are logged, never
// returned.
func (s *Synchronizer) Run(ctx context.Context) error {
	if _, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("initial clock sync failed")
	}

	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("clock resync failed")
			}
		}
	}
}

func clampDrift(d float64) float64 {
	switch {
	case d > maxDrift:
		return maxDrift
	case d < -maxDrift:
		return -maxDrift
	}
	return d
}
