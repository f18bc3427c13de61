package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/tatkal-scheduler/internal/booking"
	"github.com/example/tatkal-scheduler/internal/clock"
	"github.com/example/tatkal-scheduler/internal/engine"
	"github.com/example/tatkal-scheduler/internal/guard"
	"github.com/example/tatkal-scheduler/internal/scheduler"
	"github.com/example/tatkal-scheduler/internal/templates"
)

var errBadBody = errors.New("invalid request body")

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadBody), errors.Is(err, booking.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrInvalidScheduleTime):
		return http.StatusUnprocessableEntity
	case errors.Is(err, guard.ErrConcurrentAttempt):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrUnknownSchedule), templates.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrClosed), errors.Is(err, scheduler.ErrClosed),
		errors.Is(err, clock.ErrTimeSourceUnreachable), errors.Is(err, clock.ErrOffsetTooStale):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
