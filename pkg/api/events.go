package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const keepAliveInterval = 15 * time.Second

// streamEvents sends lifecycle events as server-sent events until the client
// disconnects. ?task_id= limits the stream to one task.
func (s *Server) streamEvents(c *gin.Context) {
	if s.broker == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Error: "event stream disabled"})
		return
	}

	var taskID int64
	if raw := c.Query("task_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.badRequest(c, "invalid task_id")
			return
		}
		taskID = id
	}

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if taskID != 0 && ev.TaskID != taskID {
				continue
			}
			c.SSEvent(string(ev.Type), ev)
			c.Writer.Flush()
		case <-keepAlive.C:
			c.SSEvent("ping", "")
			c.Writer.Flush()
		}
	}
}
