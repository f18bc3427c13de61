package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/tatkal-scheduler/internal/auth"
	"github.com/example/tatkal-scheduler/internal/booking"
	"github.com/example/tatkal-scheduler/internal/engine"
	"github.com/example/tatkal-scheduler/internal/history"
	"github.com/example/tatkal-scheduler/internal/scheduler"
	"github.com/example/tatkal-scheduler/internal/session"
	"github.com/example/tatkal-scheduler/internal/templates"
)

type loginBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, errBadBody)
		return
	}
	id, err := s.opts.Sessions.Authenticate(c.Request.Context(), strings.TrimSpace(body.Username), body.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		s.fail(c, err)
		return
	}
	if err := s.opts.Sessions.SetSession(c.Writer, c.Request, id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operator_id": id})
}

func (s *Server) logout(c *gin.Context) {
	s.opts.Sessions.ClearSession(c.Writer)
	c.Status(http.StatusNoContent)
}

func (s *Server) status(c *gin.Context) {
	off, synced := s.opts.Clock.Current()
	snap := s.opts.Engine.Status()
	schedules := s.opts.Scheduler.List()
	c.JSON(http.StatusOK, gin.H{
		"phase":             overallPhase(snap, schedules),
		"engine":            snap,
		"waiting_for_input": snap.Attempt != nil && snap.Attempt.WaitingForInput(),
		"clock": gin.H{
			"synced":   synced,
			"offset":   off.Value.String(),
			"stale":    off.Stale,
			"source":   off.Source,
			"true_now": s.opts.Clock.TrueNow(),
		},
		"schedules": schedules,
	})
}

// overallPhase is the running attempt's phase, else scheduled while any
// schedule is armed, else idle.
func overallPhase(snap engine.Snapshot, schedules []scheduler.Info) session.Phase {
	if snap.Active && snap.Attempt != nil {
		return snap.Attempt.Phase
	}
	for _, info := range schedules {
		if info.State == scheduler.StateArmed {
			return session.PhaseScheduled
		}
	}
	return session.PhaseIdle
}

// bookingBody is either a full request or a saved template plus a
// journey date (YYYY-MM-DD).
type bookingBody struct {
	Request  *booking.Request `json:"request"`
	Template string           `json:"template"`
	Date     string           `json:"date"`

	// schedule only
	At   *time.Time `json:"at"`
	Lead string     `json:"lead"`
}

func (s *Server) resolve(c *gin.Context, body bookingBody) (booking.Request, error) {
	if body.Request != nil {
		return *body.Request, nil
	}
	if body.Template == "" {
		return booking.Request{}, fmt.Errorf("%w: request or template required", errBadBody)
	}
	oid, _ := auth.OperatorID(c)
	t, err := s.opts.Templates.GetByName(c.Request.Context(), oid, body.Template)
	if err != nil {
		return booking.Request{}, err
	}
	date, err := time.ParseInLocation("2006-01-02", body.Date, s.opts.Tatkal.Location)
	if err != nil {
		return booking.Request{}, fmt.Errorf("%w: date must be YYYY-MM-DD", errBadBody)
	}
	return t.Request(date), nil
}

func (s *Server) startBooking(c *gin.Context) {
	var body bookingBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, errBadBody)
		return
	}
	req, err := s.resolve(c, body)
	if err != nil {
		s.fail(c, err)
		return
	}
	id, err := s.opts.Engine.StartNow(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"attempt_id": id})
}

func (s *Server) cancelAttempt(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cancelled": s.opts.Engine.Cancel()})
}

func (s *Server) listSchedules(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Scheduler.List())
}

// createSchedule arms a booking. Without "at" the target is the Tatkal
// opening time of the journey.
func (s *Server) createSchedule(c *gin.Context) {
	var body bookingBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, errBadBody)
		return
	}
	req, err := s.resolve(c, body)
	if err != nil {
		s.fail(c, err)
		return
	}

	lead := s.opts.DefaultLead
	if body.Lead != "" {
		if lead, err = time.ParseDuration(body.Lead); err != nil || lead < 0 {
			s.fail(c, fmt.Errorf("%w: lead must be a non-negative duration", errBadBody))
			return
		}
	}

	var target time.Time
	if body.At != nil {
		target = *body.At
	} else {
		target, err = booking.OpeningTime(req.Journey.Date, req.Journey.Class,
			s.opts.Tatkal.ACOpen, s.opts.Tatkal.NonACOpen, s.opts.Tatkal.Location)
		if err != nil {
			s.fail(c, err)
			return
		}
	}

	id, err := s.opts.Scheduler.Schedule(c.Request.Context(), req, target, lead)
	if err != nil {
		s.fail(c, err)
		return
	}
	info, _ := s.opts.Scheduler.Get(id)
	c.JSON(http.StatusCreated, info)
}

func (s *Server) cancelSchedule(c *gin.Context) {
	if err := s.opts.Scheduler.Cancel(scheduler.Handle(c.Param("id"))); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type answerBody struct {
	Value string `json:"value" binding:"required"`
}

func (s *Server) submitCheckpoint(c *gin.Context) {
	var body answerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, errBadBody)
		return
	}
	if !s.opts.Engine.SubmitCheckpoint(c.Param("id"), body.Value) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending checkpoint with that id"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) checkpointImage(c *gin.Context) {
	id := c.Param("id")
	if s.opts.Images != nil {
		if img, ct, ok := s.opts.Images.Get(id); ok {
			c.Header("Cache-Control", "no-store")
			c.Data(http.StatusOK, ct, img)
			return
		}
	}
	if req, ok := s.opts.Engine.Checkpoint(id); ok && len(req.Payload.Image) > 0 {
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, req.Payload.ContentType, req.Payload.Image)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no image for that checkpoint"})
}

func (s *Server) history(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	recs, err := s.opts.History.Recent(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (s *Server) listTemplates(c *gin.Context) {
	oid, _ := auth.OperatorID(c)
	ts, err := s.opts.Templates.ListByOperator(c.Request.Context(), oid)
	if err != nil {
		s.fail(c, err)
		return
	}
	if ts == nil {
		ts = []templates.Template{}
	}
	c.JSON(http.StatusOK, ts)
}

func (s *Server) saveTemplate(c *gin.Context) {
	var t templates.Template
	if err := c.ShouldBindJSON(&t); err != nil {
		s.fail(c, errBadBody)
		return
	}
	t.OperatorID, _ = auth.OperatorID(c)
	if err := t.Validate(); err != nil {
		s.fail(c, err)
		return
	}
	id, err := s.opts.Templates.Save(c.Request.Context(), t)
	if err != nil {
		s.fail(c, err)
		return
	}
	t.ID = id
	c.JSON(http.StatusCreated, t)
}

func (s *Server) deleteTemplate(c *gin.Context) {
	oid, _ := auth.OperatorID(c)
	if err := s.opts.Templates.Delete(c.Request.Context(), oid, c.Param("name")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type subscriptionBody struct {
	Endpoint string `json:"endpoint" binding:"required,url"`
	Keys     struct {
		P256DH string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys"`
}

func (s *Server) putSubscription(c *gin.Context) {
	var body subscriptionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, errBadBody)
		return
	}
	oid, _ := auth.OperatorID(c)
	err := s.opts.History.SaveSubscription(c.Request.Context(), history.PushSubscription{
		Endpoint:   body.Endpoint,
		P256DH:     body.Keys.P256DH,
		Auth:       body.Keys.Auth,
		OperatorID: oid,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteSubscription(c *gin.Context) {
	var body struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, errBadBody)
		return
	}
	if err := s.opts.History.DeleteSubscription(c.Request.Context(), body.Endpoint); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) vapidPublicKey(c *gin.Context) {
	if s.opts.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vapid keys are not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": s.opts.VAPIDPublicKey})
}
