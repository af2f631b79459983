package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/couchgate/couchgate/internal/hub"
	"github.com/couchgate/couchgate/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
)

const pingInterval = 30 * time.Second

type EventsHandler struct {
	hub    *hub.Hub
	logger *slog.Logger
}

func NewEventsHandler(h *hub.Hub, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{hub: h, logger: logger.With("component", "events_handler")}
}

// GET /live-events
// Long-lived SSE stream. The session middleware has already resolved the
// username; the connection stays registered until the client goes away.
func (h *EventsHandler) Stream(c *gin.Context) {
	username := middleware.Username(c)
	if username == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	conn := hub.NewResponseConn(c.Writer)
	if err := conn.Send(gin.H{"type": "connected", "username": username}); err != nil {
		h.logger.Warn("sse hello failed", "username", username, "error", err)
		return
	}

	h.hub.Register(username, conn)
	defer h.hub.Unregister(conn)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Send(gin.H{"type": "ping", "time": time.Now().UTC().Format(time.RFC3339)}); err != nil {
				h.logger.Debug("sse ping failed, closing", "username", username, "error", err)
				return
			}
		}
	}
}
