package handlers

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/questmap/backend/internal/middleware"
	"github.com/questmap/backend/internal/realtime"
)

type EventsHandler struct {
	hub *realtime.Hub
}

func NewEventsHandler(hub *realtime.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

const heartbeatInterval = 25 * time.Second

// Stream is the SSE endpoint. The session gets the initial data snapshot
// first, then live events until the client goes away.
func (h *EventsHandler) Stream(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	session := h.hub.Connect(middleware.UserID(c), isAdminRole(c))
	defer h.hub.Disconnect(session.ID)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-session.Events():
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev.Payload)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().UTC())
			return true
		case <-clientGone:
			return false
		}
	})
}
