package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/stoneweigh/internal/source"
)

// ScaleTokenHeader carries the ingest token of a remote scale.
const ScaleTokenHeader = "X-Scale-Token"

// IngestHandler accepts weights pushed by remote scale senders.
type IngestHandler struct {
	remotes source.Remotes
	logger  *zap.Logger
}

// NewIngestHandler constructs the remote scale endpoint.
func NewIngestHandler(remotes source.Remotes, logger *zap.Logger) *IngestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{remotes: remotes, logger: logger}
}

type weightPayload struct {
	Weight *float64 `json:"weight" binding:"required"`
}

// Receive forwards one pushed weight into the scale's reading stream.
func (h *IngestHandler) Receive(c *gin.Context) {
	token := c.GetHeader(ScaleTokenHeader)
	if token == "" {
		token = c.Query("token")
	}
	remote, ok := h.remotes.Find(token)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown scale token"})
		return
	}

	var payload weightPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.Warn("invalid weight payload", zap.Int("scale_id", remote.ScaleID()), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "weight is required"})
		return
	}

	if err := remote.Push(c.Request.Context(), *payload.Weight); err != nil {
		status := http.StatusServiceUnavailable
		if !errors.Is(err, source.ErrNotRunning) {
			status = http.StatusRequestTimeout
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"scale_id":        remote.ScaleID(),
		"received_weight": *payload.Weight,
	})
}
