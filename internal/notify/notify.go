// Package notify pushes operator alerts to subscribed browsers when an
// attempt needs human input or ends.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"github.com/example/tatkal-scheduler/internal/checkpoint"
	"github.com/example/tatkal-scheduler/internal/events"
	"github.com/example/tatkal-scheduler/internal/history"
	"github.com/example/tatkal-scheduler/internal/log"
	"github.com/example/tatkal-scheduler/internal/metrics"
	"github.com/example/tatkal-scheduler/internal/session"
)

// Sender delivers one push message.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender sends through the webpush library.
type WebPushSender struct{}

func (WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Subscriptions is the part of the history store the pool needs.
type Subscriptions interface {
	Subscriptions(ctx context.Context) ([]history.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// Message is the JSON body the service worker receives.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Pool is an events.Sink that hands alerts to a fixed set of workers.
// Alerts are dropped when the queue is full so the core never blocks on
// push delivery.
type Pool struct {
	size    int
	jobs    chan Message
	subs    Subscriptions
	options *webpush.Options
	sender  Sender
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

type Option func(*Pool)

// WithSender replaces the real webpush sender.
func WithSender(s Sender) Option { return func(p *Pool) { p.sender = s } }

func NewPool(size int, subs Subscriptions, options *webpush.Options, opts ...Option) *Pool {
	if size <= 0 {
		size = 2
	}
	p := &Pool{
		size:    size,
		jobs:    make(chan Message, size*8),
		subs:    subs,
		options: options,
		sender:  WebPushSender{},
		logger:  log.WithComponent("notify"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the workers. They exit when ctx is done.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case msg := <-p.jobs:
			p.broadcast(ctx, msg)
		case <-ctx.Done():
			p.logger.Debug().Int("worker", id).Msg("push worker stopped")
			return
		}
	}
}

// Dispatch queues msg. It reports false when the queue is full.
func (p *Pool) Dispatch(msg Message) bool {
	select {
	case p.jobs <- msg:
		return true
	default:
		metrics.PushSendTotal.WithLabelValues("dropped").Inc()
		p.logger.Warn().Str("title", msg.Title).Msg("push queue full, alert dropped")
		return false
	}
}

func (p *Pool) EmitStatus(_ context.Context, st events.Status) {
	if !session.Phase(st.Phase).Terminal() {
		return
	}
	title := "Booking " + st.Phase
	if st.Phase == string(session.PhaseSucceeded) {
		title = "Booking confirmed"
	}
	p.Dispatch(Message{Title: title, Body: st.Message, Tag: "attempt-" + st.AttemptID, URL: "/"})
}

func (p *Pool) CheckpointRequested(_ context.Context, req checkpoint.Request) {
	p.Dispatch(Message{
		Title: fmt.Sprintf("%s needed", checkpointLabel(req.Kind)),
		Body:  fmt.Sprintf("Respond before %s", req.Deadline.Format("15:04:05")),
		Tag:   "checkpoint-" + req.ID,
		URL:   "/#checkpoint-" + req.ID,
	})
}

func checkpointLabel(k checkpoint.Kind) string {
	switch k {
	case checkpoint.KindCaptcha:
		return "Captcha"
	case checkpoint.KindOTP:
		return "OTP"
	case checkpoint.KindPayment:
		return "Payment approval"
	}
	return string(k)
}

func (p *Pool) broadcast(ctx context.Context, msg Message) {
	subs, err := p.subs.Subscriptions(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to load push subscriptions")
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to encode push message")
		return
	}
	for _, sub := range subs {
		p.send(ctx, sub, payload)
	}
}

func (p *Pool) send(ctx context.Context, sub history.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256DH, Auth: sub.Auth},
	}
	resp, err := p.sender.Send(payload, wpSub, p.options)
	if err != nil {
		metrics.PushSendTotal.WithLabelValues("error").Inc()
		p.logger.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("push send failed")
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		metrics.PushSendTotal.WithLabelValues("expired").Inc()
		p.logger.Info().Str("endpoint", sub.Endpoint).Msg("push subscription expired, deleting")
		if err := p.subs.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			p.logger.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
	case resp.StatusCode >= 300:
		metrics.PushSendTotal.WithLabelValues("rejected").Inc()
		p.logger.Warn().Int("status", resp.StatusCode).Str("endpoint", sub.Endpoint).Msg("push rejected")
	default:
		metrics.PushSendTotal.WithLabelValues("sent").Inc()
	}
}

// GenerateKeys returns a fresh VAPID key pair.
func GenerateKeys() (privateKey, publicKey string, err error) {
	return webpush.GenerateVAPIDKeys()
}
