// Package web is the operator API: login, booking control, checkpoint
// answers and a server-sent event stream of attempt progress.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/example/tatkal-scheduler/internal/booking"
	"github.com/example/tatkal-scheduler/internal/checkpoint"
	"github.com/example/tatkal-scheduler/internal/clock"
	"github.com/example/tatkal-scheduler/internal/engine"
	"github.com/example/tatkal-scheduler/internal/events"
	"github.com/example/tatkal-scheduler/internal/history"
	"github.com/example/tatkal-scheduler/internal/log"
	"github.com/example/tatkal-scheduler/internal/scheduler"
	"github.com/example/tatkal-scheduler/internal/templates"
	"github.com/example/tatkal-scheduler/internal/web/mw"
)

type Engine interface {
	StartNow(ctx context.Context, req booking.Request) (string, error)
	Cancel() bool
	SubmitCheckpoint(id, value string) bool
	Checkpoint(id string) (checkpoint.Request, bool)
	Status() engine.Snapshot
}

type Scheduler interface {
	Schedule(ctx context.Context, req booking.Request, target time.Time, lead time.Duration) (scheduler.Handle, error)
	Cancel(id scheduler.Handle) error
	Get(id scheduler.Handle) (scheduler.Info, bool)
	List() []scheduler.Info
}

type Clock interface {
	Current() (clock.Offset, bool)
	TrueNow() time.Time
}

type Templates interface {
	Save(ctx context.Context, t templates.Template) (int64, error)
	ListByOperator(ctx context.Context, operatorID int64) ([]templates.Template, error)
	GetByName(ctx context.Context, operatorID int64, name string) (templates.Template, error)
	Delete(ctx context.Context, operatorID int64, name string) error
}

type Sessions interface {
	Authenticate(ctx context.Context, username, password string) (int64, error)
	SetSession(w http.ResponseWriter, r *http.Request, operatorID int64) error
	ClearSession(w http.ResponseWriter)
	RequireAuth() gin.HandlerFunc
}

// Tatkal tells the schedule handler when the quota opens.
type Tatkal struct {
	ACOpen    string
	NonACOpen string
	Location  *time.Location
}

type Options struct {
	Engine    Engine
	Scheduler Scheduler
	Clock     Clock
	Hub       *events.Hub
	Images    *Images
	History   history.Store
	Templates Templates
	Sessions  Sessions

	Tatkal         Tatkal
	DefaultLead    time.Duration
	RateLimit      rate.Limit
	RateBurst      int
	VAPIDPublicKey string
	Logger         *zerolog.Logger
}

type Server struct {
	opts   Options
	logger zerolog.Logger
}

func New(opts Options) *Server {
	logger := log.WithComponent("web")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(5)
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.Tatkal.Location == nil {
		opts.Tatkal.Location = time.UTC
	}
	return &Server{opts: opts, logger: logger}
}

// Routes builds the gin engine.
func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestID(), mw.AccessLog(s.logger))

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := mw.RateLimiter(mw.NewIPRateLimiter(s.opts.RateLimit, s.opts.RateBurst, 0))
	r.POST("/login", limiter, s.login)
	r.POST("/logout", s.logout)

	api := r.Group("/api", limiter, s.opts.Sessions.RequireAuth())
	{
		api.GET("/status", s.status)
		api.POST("/bookings", s.startBooking)
		api.POST("/attempt/cancel", s.cancelAttempt)

		api.GET("/schedules", s.listSchedules)
		api.POST("/schedules", s.createSchedule)
		api.DELETE("/schedules/:id", s.cancelSchedule)

		api.POST("/checkpoints/:id", s.submitCheckpoint)
		api.GET("/checkpoints/:id/image", s.checkpointImage)

		api.GET("/events", s.events)
		api.GET("/history", s.history)

		api.GET("/templates", s.listTemplates)
		api.POST("/templates", s.saveTemplate)
		api.DELETE("/templates/:name", s.deleteTemplate)

		api.PUT("/subscriptions", s.putSubscription)
		api.DELETE("/subscriptions", s.deleteSubscription)
		api.GET("/vapid_public_key", s.vapidPublicKey)
	}
	return r
}

// HTTPServer wraps Routes with the timeouts the service runs with. The
// event stream is long lived so there is no write timeout.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) healthz(c *gin.Context) {
	off, synced := s.opts.Clock.Current()
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"clock_synced": synced,
		"clock_stale":  off.Stale,
	})
}
