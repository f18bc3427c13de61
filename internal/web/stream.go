package web

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const heartbeatEvery = 15 * time.Second

// events streams hub events as server-sent events. Late joiners get the
// recent history first.
func (s *Server) events(c *gin.Context) {
	sub, recent := s.opts.Hub.Subscribe()
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	for _, ev := range recent {
		c.SSEvent(ev.Type, ev)
	}
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()
	c.Stream(func(io.Writer) bool {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
