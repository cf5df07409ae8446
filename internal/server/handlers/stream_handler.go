package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamadbah2/stoneweigh/internal/broadcast"
)

// Hub hands out live event subscriptions.
type Hub interface {
	Subscribe(id string) (*broadcast.Subscriber, error)
	Unsubscribe(id string) error
}

// StreamHandler pushes scale and session events to dashboards.
type StreamHandler struct {
	hub    Hub
	logger *zap.Logger
}

// NewStreamHandler constructs the live stream endpoint.
func NewStreamHandler(hub Hub, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{hub: hub, logger: logger}
}

// Stream writes one JSON event per line until the client goes away. With
// ?format=sse the events are framed as server-sent events instead.
func (h *StreamHandler) Stream(c *gin.Context) {
	id := uuid.NewString()
	sub, err := h.hub.Subscribe(id)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = h.hub.Unsubscribe(id) }()

	sse := c.Query("format") == "sse"
	if sse {
		c.Header("Content-Type", "text/event-stream")
	} else {
		c.Header("Content-Type", "application/x-ndjson")
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	h.logger.Info("stream client connected", zap.String("subscriber_id", id), zap.String("client_ip", c.ClientIP()))
	defer h.logger.Info("stream client disconnected", zap.String("subscriber_id", id))

	ctx := c.Request.Context()
	enc := json.NewEncoder(c.Writer)
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if sse {
			c.SSEvent(string(ev.Type), ev)
		} else if err := enc.Encode(ev); err != nil {
			return
		}
		c.Writer.Flush()
	}
}
