package httpadapter

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PabloGalante/aris-agent/internal/observability"
)

// heartbeatInterval keeps idle streams open behind proxies.
const heartbeatInterval = 15 * time.Second

// streamEvents serves the session change feed as Server-Sent Events:
// snapshot, added, cleared, error, and ping.
func (s *Server) streamEvents(c *gin.Context) {
	ctx := c.Request.Context()
	sc := sessionContext(c)

	events, err := s.svc.Subscribe(ctx, sc)
	if err != nil {
		writeError(c, err)
		return
	}

	log := observability.LoggerFromContext(observability.WithSession(ctx, sc))
	log.Info("event stream opened")
	defer log.Info("event stream closed")

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		case ev, ok := <-events:
			if !ok {
				return false
			}
			switch {
			case ev.Err != nil:
				log.Warn("subscription failed", "error", ev.Err)
				c.SSEvent("error", gin.H{"error": "change feed interrupted, reconnect to resume"})
				return false
			case ev.Initial:
				c.SSEvent("snapshot", gin.H{"messages": toMessagesResponse(ev.Added)})
			case ev.Cleared:
				c.SSEvent("cleared", gin.H{"messages": toMessagesResponse(ev.Added)})
			default:
				c.SSEvent("added", gin.H{"messages": toMessagesResponse(ev.Added)})
			}
			return true
		}
	})
}
