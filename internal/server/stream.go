package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/marginalia/internal/versioning"
	"github.com/gin-gonic/gin"
)

// handleEventStream relays change events of one document as server-sent events.
// The stream ends after a document.deleted event.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	documentID := c.Param("id")
	if _, err := h.service.GetDocument(c.Request.Context(), documentID); err != nil {
		h.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	events, cleanup := h.realtime.Subscribe(ctx, documentID)
	defer cleanup()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, open := <-events:
			if !open {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return event.Type != versioning.EventDocumentDeleted
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC()})
			return true
		}
	})
}
