package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
	"github.com/mamadbah2/stoneweigh/internal/service/weighing"
)

// WeighingService is the session API the handlers drive.
type WeighingService interface {
	Snapshot() []weighing.ScaleStatus
	Status(scaleID int) (weighing.ScaleStatus, error)
	History(scaleID int) ([]models.WeighingSession, error)
	OpenSession(ctx context.Context, scaleID int) (models.WeighingSession, error)
	Capture(ctx context.Context, scaleID int) (models.WeighingSession, error)
	Cancel(ctx context.Context, scaleID int, reason string) (models.WeighingSession, error)
	TriggerPlateCapture(ctx context.Context, scaleID int) (weighing.PlateResult, error)
	Submit(ctx context.Context, req weighing.SubmitRequest) (weighing.SubmitResult, error)
}

// PlateResolver accepts out-of-band recognition results.
type PlateResolver interface {
	Resolve(requestID, plate string) error
}

// WeighingHandler exposes operator commands over HTTP.
type WeighingHandler struct {
	svc    WeighingService
	plates PlateResolver
	logger *zap.Logger
}

// NewWeighingHandler constructs the HTTP handler adapter.
func NewWeighingHandler(svc WeighingService, plates PlateResolver, logger *zap.Logger) *WeighingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeighingHandler{svc: svc, plates: plates, logger: logger}
}

type openSessionRequest struct {
	ScaleID int `json:"scale_id" binding:"required"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type plateCallbackRequest struct {
	RequestID string `json:"request_id" binding:"required"`
	Plate     string `json:"plate"`
}

type transactionRequest struct {
	SessionID string   `json:"session_id"`
	ScaleID   int      `json:"scale_id" binding:"required"`
	Gross     *float64 `json:"gross"`
	Tare      *float64 `json:"tare"`
	Plate     string   `json:"plate"`
	Driver    string   `json:"driver"`
	Vendor    string   `json:"vendor"`
	PONumber  string   `json:"po_number"`
}

type transactionResponse struct {
	TicketID    string    `json:"ticket_id"`
	InvoiceRef  string    `json:"invoice_ref"`
	SessionID   string    `json:"session_id"`
	ScaleID     int       `json:"scale_id"`
	GrossKg     float64   `json:"gross"`
	TareKg      float64   `json:"tare"`
	NetKg       float64   `json:"net"`
	PlateNumber string    `json:"plate"`
	CommittedAt time.Time `json:"committed_at"`
	Duplicate   bool      `json:"duplicate"`
}

// ListScales returns the state of every scale.
func (h *WeighingHandler) ListScales(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scales": h.svc.Snapshot()})
}

// GetScale returns the state of one scale.
func (h *WeighingHandler) GetScale(c *gin.Context) {
	scaleID, ok := scaleParam(c)
	if !ok {
		return
	}
	status, err := h.svc.Status(scaleID)
	if err != nil {
		respondError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, status)
}

// History returns the ended sessions of a scale.
func (h *WeighingHandler) History(c *gin.Context) {
	scaleID, ok := scaleParam(c)
	if !ok {
		return
	}
	sessions, err := h.svc.History(scaleID)
	if err != nil {
		respondError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// OpenSession opens a session on an idle scale.
func (h *WeighingHandler) OpenSession(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid open session payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	session, err := h.svc.OpenSession(c.Request.Context(), req.ScaleID)
	if err != nil {
		respondError(c, err, "")
		return
	}
	c.JSON(http.StatusCreated, session)
}

// Capture freezes the current weight of a scale.
func (h *WeighingHandler) Capture(c *gin.Context) {
	scaleID, ok := scaleParam(c)
	if !ok {
		return
	}
	session, err := h.svc.Capture(c.Request.Context(), scaleID)
	if err != nil {
		respondError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, session)
}

// Cancel ends the active session of a scale.
func (h *WeighingHandler) Cancel(c *gin.Context) {
	scaleID, ok := scaleParam(c)
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	session, err := h.svc.Cancel(c.Request.Context(), scaleID, req.Reason)
	if err != nil {
		respondError(c, err, "")
		return
	}
	h.logger.Info("session cancelled", zap.Int("scale_id", scaleID), zap.String("session_id", session.SessionID))
	c.JSON(http.StatusOK, session)
}

// TriggerPlate captures a plate for the scale given as query or JSON scale_id.
func (h *WeighingHandler) TriggerPlate(c *gin.Context) {
	var req openSessionRequest
	if raw := c.Query("scale_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scale_id must be an integer"})
			return
		}
		req.ScaleID = id
	} else if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scale_id is required"})
		return
	}

	result, err := h.svc.TriggerPlateCapture(c.Request.Context(), req.ScaleID)
	if err != nil {
		respondError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, result)
}

// PlateCallback receives the result of a deferred recognition.
func (h *WeighingHandler) PlateCallback(c *gin.Context) {
	var req plateCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid plate callback payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.plates.Resolve(req.RequestID, req.Plate); err != nil {
		// late results after a timeout land here
		h.logger.Info("plate callback ignored", zap.String("request_id", req.RequestID), zap.Error(err))
		c.JSON(http.StatusGone, gin.H{"error": err.Error(), "request_id": req.RequestID})
		return
	}
	c.Status(http.StatusNoContent)
}

// SubmitTransaction commits the ready session of a scale.
func (h *WeighingHandler) SubmitTransaction(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid transaction payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "reason": "validation", "session_id": req.SessionID})
		return
	}

	result, err := h.svc.Submit(c.Request.Context(), weighing.SubmitRequest{
		SessionID:   req.SessionID,
		ScaleID:     req.ScaleID,
		GrossKg:     req.Gross,
		TareKg:      req.Tare,
		PlateNumber: req.Plate,
		Driver:      req.Driver,
		Vendor:      req.Vendor,
		PONumber:    req.PONumber,
	})
	if err != nil {
		h.logger.Warn("transaction rejected",
			zap.Int("scale_id", req.ScaleID),
			zap.String("session_id", req.SessionID),
			zap.Error(err))
		respondError(c, err, req.SessionID)
		return
	}
	if dup := result.Err(); dup != nil {
		h.logger.Info("repeated submission answered with prior ticket", zap.Error(dup))
	}

	tx := result.Transaction
	c.JSON(http.StatusOK, transactionResponse{
		TicketID:    tx.TicketID,
		InvoiceRef:  tx.InvoiceRef,
		SessionID:   tx.SessionID,
		ScaleID:     tx.ScaleID,
		GrossKg:     tx.GrossKg,
		TareKg:      tx.TareKg,
		NetKg:       tx.NetKg,
		PlateNumber: tx.PlateNumber,
		CommittedAt: tx.CommittedAt,
		Duplicate:   result.Duplicate,
	})
}

func scaleParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scale id must be an integer"})
		return 0, false
	}
	return id, true
}
