package mw

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/tatkal-scheduler/internal/log"
)

const HeaderRequestID = "X-Request-ID"

// RequestID tags every request with an id, taken from the client when it
// sends one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(log.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// AccessLog writes one line per request.
func AccessLog(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := logger.Info()
		switch {
		case status >= 500:
			ev = logger.Error()
		case status >= 400:
			ev = logger.Warn()
		}
		if c.FullPath() == "/healthz" || c.FullPath() == "/metrics" {
			ev = logger.Debug()
		}
		ev.Str("request_id", log.RequestIDFromContext(c.Request.Context())).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}
