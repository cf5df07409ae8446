package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
)

type errorClass struct {
	target error
	status int
	reason string
}

var errorClasses = []errorClass{
	{models.ErrValidation, http.StatusBadRequest, "validation"},
	{models.ErrScaleBusy, http.StatusConflict, "scale_busy"},
	{models.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{models.ErrScaleDisconnected, http.StatusConflict, "scale_disconnected"},
	{models.ErrRequestInFlight, http.StatusConflict, "request_in_flight"},
	{models.ErrNoActiveSession, http.StatusNotFound, "no_active_session"},
	{models.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{models.ErrUnknownScale, http.StatusNotFound, "unknown_scale"},
	{models.ErrPersistence, http.StatusServiceUnavailable, "persistence"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	{context.Canceled, http.StatusRequestTimeout, "cancelled"},
}

func classify(err error) (int, string) {
	for _, class := range errorClasses {
		if errors.Is(err, class.target) {
			return class.status, class.reason
		}
	}
	return http.StatusInternalServerError, "internal"
}

// respondError writes {error, reason, session_id} with the status matching err.
func respondError(c *gin.Context, err error, sessionID string) {
	status, reason := classify(err)
	body := gin.H{"error": err.Error(), "reason": reason}

	var verr *models.ValidationError
	var perr *models.PersistenceError
	switch {
	case errors.As(err, &verr):
		if verr.SessionID != "" {
			sessionID = verr.SessionID
		}
		body["field"] = verr.Field
	case errors.As(err, &perr):
		sessionID = perr.SessionID
		body["attempts"] = perr.Attempts
	}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	c.JSON(status, body)
}
