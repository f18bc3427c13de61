package clock

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/beevik/ntp"
)

// Sample is one measurement of (true time - local time).
type Sample struct {
	Offset time.Duration
	RTT    time.Duration
	// Precision is the best resolution the source can offer.
	Precision time.Duration
}

// Source is any network time reference.
type Source interface {
	Name() string
	Query(ctx context.Context) (Sample, error)
}

// NTPSource queries an NTP server, pool.ntp.org by default.
type NTPSource struct {
	Host    string
	Timeout time.Duration
}

func (s NTPSource) Name() string { return "ntp:" + s.host() }

func (s NTPSource) host() string {
	if s.Host == "" {
		return "pool.ntp.org"
	}
	return s.Host
}

func (s NTPSource) Query(ctx context.Context) (Sample, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}
	if timeout <= 0 {
		return Sample{}, context.DeadlineExceeded
	}

	type result struct {
		resp *ntp.Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := ntp.QueryWithOptions(s.host(), ntp.QueryOptions{Timeout: timeout})
		ch <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return Sample{}, fmt.Errorf("ntp query %s: %w", s.host(), r.err)
		}
		if err := r.resp.Validate(); err != nil {
			return Sample{}, fmt.Errorf("ntp response %s: %w", s.host(), err)
		}
		return Sample{Offset: r.resp.ClockOffset, RTT: r.resp.RTT, Precision: r.resp.Precision}, nil
	}
}

// HTTPDateSource reads the Date header of a web server, typically the
// booking portal itself. The header has one second resolution.
type HTTPDateSource struct {
	URL    string
	Client *http.Client
	now    func() time.Time
}

func (s HTTPDateSource) Name() string { return "http:" + s.URL }

func (s HTTPDateSource) Query(ctx context.Context) (Sample, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	now := s.now
	if now == nil {
		now = time.Now
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.URL, nil)
	if err != nil {
		return Sample{}, err
	}
	sent := now()
	resp, err := client.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("http date %s: %w", s.URL, err)
	}
	defer resp.Body.Close()
	recv := now()

	date, err := http.ParseTime(resp.Header.Get("Date"))
	if err != nil {
		return Sample{}, fmt.Errorf("http date %s: bad Date header: %w", s.URL, err)
	}
	rtt := recv.Sub(sent)
	mid := sent.Add(rtt / 2)
	// the server truncates to the second, so its true time is on average half a second later
	return Sample{
		Offset:    date.Add(500 * time.Millisecond).Sub(mid),
		RTT:       rtt,
		Precision: time.Second,
	}, nil
}
