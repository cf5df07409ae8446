package weighing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
	"github.com/mamadbah2/stoneweigh/internal/service/anpr"
	"github.com/mamadbah2/stoneweigh/internal/service/submission"
)

// Plate capture statuses reported to operators.
const (
	PlateStatusSuccess   = "success"
	PlateStatusTimeout   = "timeout"
	PlateStatusSimulated = "simulated"
)

// PlateResult answers a plate capture command.
type PlateResult struct {
	Status    string `json:"status"`
	Plate     string `json:"plate"`
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
}

// PlateStatus maps a resolution outcome to an operator status.
func PlateStatus(outcome models.ANPROutcome) string {
	switch outcome {
	case models.ANPRRecognized:
		return PlateStatusSuccess
	case models.ANPRSimulated:
		return PlateStatusSimulated
	default:
		return PlateStatusTimeout
	}
}

// SubmitRequest carries operator input for a submission. Nil weights keep the
// captured values; a zero gross does too.
type SubmitRequest struct {
	SessionID   string
	ScaleID     int
	GrossKg     *float64
	TareKg      *float64
	PlateNumber string
	Driver      string
	Vendor      string
	PONumber    string
}

// SubmitResult is the outcome of a successful submission.
type SubmitResult struct {
	Transaction models.Transaction     `json:"transaction"`
	Session     models.WeighingSession `json:"session"`
	Duplicate   bool                   `json:"duplicate"`
}

// OpenSession opens a session on an idle scale at the operator's request.
func (c *Coordinator) OpenSession(ctx context.Context, scaleID int) (models.WeighingSession, error) {
	st, err := c.station(scaleID)
	if err != nil {
		return models.WeighingSession{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session != nil {
		return st.session.Clone(), fmt.Errorf("scale %d has session %s: %w", scaleID, st.session.SessionID, models.ErrScaleBusy)
	}
	s, err := c.openLocked(st, "operator")
	if err != nil {
		return models.WeighingSession{}, err
	}
	return s.Clone(), nil
}

// Capture freezes the current reading as the gross weight and requests a plate.
func (c *Coordinator) Capture(ctx context.Context, scaleID int) (models.WeighingSession, error) {
	st, err := c.station(scaleID)
	if err != nil {
		return models.WeighingSession{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := c.captureCheckLocked(st); err != nil {
		return models.WeighingSession{}, err
	}
	s := st.session
	c.captureLocked(ctx, st, st.last.WeightKg, models.CaptureOperator)
	return s.Clone(), nil
}

func (c *Coordinator) captureCheckLocked(st *station) error {
	s := st.session
	switch {
	case s == nil:
		return fmt.Errorf("scale %d: %w", st.id, models.ErrNoActiveSession)
	case s.State != models.StateWeighing:
		return fmt.Errorf("capture in state %s: %w", s.State, models.ErrInvalidTransition)
	case !st.seen || !st.last.Connected:
		return fmt.Errorf("scale %d: %w", st.id, models.ErrScaleDisconnected)
	case st.detector.IsNearZero(st.last.WeightKg):
		return &models.ValidationError{SessionID: s.SessionID, Field: "gross", Reason: "scale reads empty"}
	}
	return nil
}

// TriggerPlateCapture captures the weight if still weighing, requests a plate
// (again, once one was resolved) and waits for the result. The wait is bounded
// by the recognition timeout.
func (c *Coordinator) TriggerPlateCapture(ctx context.Context, scaleID int) (PlateResult, error) {
	st, err := c.station(scaleID)
	if err != nil {
		return PlateResult{}, err
	}

	st.mu.Lock()
	s := st.session
	if s == nil {
		st.mu.Unlock()
		return PlateResult{}, fmt.Errorf("scale %d: %w", scaleID, models.ErrNoActiveSession)
	}
	switch s.State {
	case models.StateWeighing:
		if err := c.captureCheckLocked(st); err != nil {
			st.mu.Unlock()
			return PlateResult{}, err
		}
		c.captureLocked(ctx, st, st.last.WeightKg, models.CaptureOperator)
	case models.StateStableCaptured, models.StateReadyToSubmit:
		if err := c.requestPlateLocked(ctx, st); err != nil && !errors.Is(err, models.ErrRequestInFlight) {
			st.mu.Unlock()
			return PlateResult{}, err
		}
	case models.StateAwaitingPlate:
	default:
		st.mu.Unlock()
		return PlateResult{}, fmt.Errorf("plate capture in state %s: %w", s.State, models.ErrInvalidTransition)
	}

	sessionID := s.SessionID
	var req models.ANPRRequest
	if s.ANPR != nil {
		req = s.ANPR.Clone()
	}
	st.mu.Unlock()

	if req.RequestID == "" {
		return PlateResult{Status: PlateStatusTimeout, SessionID: sessionID}, nil
	}
	if !req.Resolved() {
		got, err := c.plates.Await(ctx, req.RequestID)
		switch {
		case err == nil:
			req = got
		case errors.Is(err, anpr.ErrUnknownRequest):
			// resolved between unlock and Await; the session holds the result
			if req, err = c.recordedRequest(st, sessionID, req.RequestID); err != nil {
				return PlateResult{}, err
			}
		default:
			return PlateResult{}, err
		}
	}

	return PlateResult{
		Status:    PlateStatus(req.Outcome),
		Plate:     req.Plate,
		RequestID: req.RequestID,
		SessionID: sessionID,
	}, nil
}

func (c *Coordinator) recordedRequest(st *station, sessionID, requestID string) (models.ANPRRequest, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.session
	if s == nil || s.SessionID != sessionID {
		if past, ok := st.findHistory(sessionID); ok && past.ANPR != nil && past.ANPR.RequestID == requestID {
			return *past.ANPR, nil
		}
		return models.ANPRRequest{}, fmt.Errorf("session %s ended: %w", sessionID, models.ErrSessionNotFound)
	}
	if s.ANPR == nil || s.ANPR.RequestID != requestID {
		return models.ANPRRequest{}, fmt.Errorf("request %s superseded: %w", requestID, models.ErrRequestInFlight)
	}
	return s.ANPR.Clone(), nil
}

// Err reports ErrDuplicateSubmission when the result repeats an earlier
// commit instead of creating a transaction.
func (r SubmitResult) Err() error {
	if !r.Duplicate {
		return nil
	}
	return fmt.Errorf("session %s ticket %s: %w", r.Transaction.SessionID, r.Transaction.TicketID, models.ErrDuplicateSubmission)
}

// submitCall is a submission in progress on a station. Repeated submits for
// the same session wait on it instead of starting another.
type submitCall struct {
	sessionID string
	done      chan struct{}
	result    SubmitResult
	err       error
}

// Submit commits the ready session of a scale. On failure the session returns
// to READY_TO_SUBMIT with the error attached, or ends FAILED once the retry
// limit is reached. Submitting again while a commit is in flight waits for it;
// submitting an ended session returns its transaction if one was committed.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	st, err := c.station(req.ScaleID)
	if err != nil {
		return SubmitResult{}, err
	}

	st.mu.Lock()
	s := st.session
	if call := st.inflight; call != nil && s != nil && s.State == models.StateSubmitting &&
		(req.SessionID == "" || req.SessionID == s.SessionID) {
		st.mu.Unlock()
		return joinSubmit(ctx, call)
	}
	if s == nil || (req.SessionID != "" && s.SessionID != req.SessionID) {
		var past models.WeighingSession
		var found bool
		if req.SessionID == "" {
			past, found = st.latestHistory()
		} else {
			past, found = st.findHistory(req.SessionID)
		}
		st.mu.Unlock()
		if found {
			result, ok, err := c.priorTransaction(ctx, st, past)
			if err != nil {
				return SubmitResult{}, err
			}
			if ok {
				return result, nil
			}
		}
		if s == nil {
			return SubmitResult{}, fmt.Errorf("scale %d: %w", req.ScaleID, models.ErrNoActiveSession)
		}
		return SubmitResult{}, fmt.Errorf("session %s on scale %d: %w", req.SessionID, req.ScaleID, models.ErrSessionNotFound)
	}
	if s.State != models.StateReadyToSubmit {
		st.mu.Unlock()
		return SubmitResult{}, fmt.Errorf("submit in state %s: %w", s.State, models.ErrInvalidTransition)
	}

	candidate, err := c.prepareSubmission(st, *s, req)
	if err != nil {
		st.mu.Unlock()
		return SubmitResult{}, err
	}

	*s = candidate
	s.SubmitAttempts++
	s.LastError = ""
	c.cancelPlateLocked(st)
	c.transitionLocked(st, models.StateSubmitting)

	sctx, cancel := context.WithCancel(ctx)
	st.cancelSubmit = cancel
	call := &submitCall{sessionID: s.SessionID, done: make(chan struct{})}
	st.inflight = call
	draft := s.Clone()
	st.mu.Unlock()

	receipt, err := c.submitter.Submit(sctx, draft)
	cancel()

	st.mu.Lock()
	defer st.mu.Unlock()

	call.result, call.err = c.finishSubmitLocked(st, draft, receipt, err)
	if st.inflight == call {
		st.inflight = nil
	}
	close(call.done)
	return call.result, call.err
}

// finishSubmitLocked applies the outcome of a commit to the station.
func (c *Coordinator) finishSubmitLocked(st *station, draft models.WeighingSession, receipt submission.Receipt, err error) (SubmitResult, error) {
	cur := st.session
	if cur == nil || cur.SessionID != draft.SessionID || cur.State != models.StateSubmitting {
		// ended by cancel or timeout while persisting
		if err != nil {
			return SubmitResult{}, err
		}
		c.logger.Warn("transaction committed after session ended",
			zap.String("session_id", draft.SessionID),
			zap.String("ticket_id", receipt.Transaction.TicketID),
		)
		session := draft
		if past, ok := c.recordLateCommitLocked(st, receipt.Transaction); ok {
			session = past
		}
		return SubmitResult{Transaction: receipt.Transaction, Session: session, Duplicate: receipt.Duplicate}, nil
	}
	st.cancelSubmit = nil

	if err != nil {
		cur.LastError = err.Error()
		if cur.SubmitAttempts >= c.cfg.SubmitRetryLimit {
			c.logger.Error("submission retry limit reached",
				zap.String("session_id", cur.SessionID),
				zap.Int("attempts", cur.SubmitAttempts),
				zap.Error(err),
			)
			c.endLocked(st, models.StateFailed, "submission retry limit reached")
		} else {
			c.transitionLocked(st, models.StateReadyToSubmit)
		}
		return SubmitResult{}, err
	}

	cur.TicketID = receipt.Transaction.TicketID
	cur.InvoiceRef = receipt.Transaction.InvoiceRef
	c.endLocked(st, models.StateCommitted, "committed")

	return SubmitResult{Transaction: receipt.Transaction, Session: cur.Clone(), Duplicate: receipt.Duplicate}, nil
}

func joinSubmit(ctx context.Context, call *submitCall) (SubmitResult, error) {
	select {
	case <-call.done:
	case <-ctx.Done():
		return SubmitResult{}, fmt.Errorf("waiting for submission of session %s: %w", call.sessionID, ctx.Err())
	}
	if call.err != nil {
		return SubmitResult{}, call.err
	}
	result := call.result
	result.Duplicate = true
	return result, nil
}

// priorTransaction looks up the transaction of an ended session. ok is false
// when none was committed.
func (c *Coordinator) priorTransaction(ctx context.Context, st *station, past models.WeighingSession) (SubmitResult, bool, error) {
	if c.submitter == nil {
		return SubmitResult{}, false, nil
	}
	tx, ok, err := c.submitter.Find(ctx, past.SessionID)
	if err != nil {
		return SubmitResult{}, false, &models.PersistenceError{SessionID: past.SessionID, Attempts: 1, Err: err}
	}
	if !ok {
		return SubmitResult{}, false, nil
	}
	if past.TicketID == "" {
		st.mu.Lock()
		if updated, found := c.recordLateCommitLocked(st, tx); found {
			past = updated
		}
		st.mu.Unlock()
	}
	return SubmitResult{Transaction: tx, Session: past, Duplicate: true}, true, nil
}

// recordLateCommitLocked marks an archived session COMMITTED once its
// transaction is found to have landed after the session ended.
func (c *Coordinator) recordLateCommitLocked(st *station, tx models.Transaction) (models.WeighingSession, bool) {
	entry := st.historyEntry(tx.SessionID)
	if entry == nil {
		return models.WeighingSession{}, false
	}
	if entry.TicketID == tx.TicketID && entry.State == models.StateCommitted {
		return entry.Clone(), true
	}
	prior := entry.State
	entry.TicketID = tx.TicketID
	entry.InvoiceRef = tx.InvoiceRef
	entry.State = models.StateCommitted
	entry.EndReason = fmt.Sprintf("committed after %s", strings.ToLower(string(prior)))
	entry.LastError = ""

	c.logger.Info("late commit recorded on ended session",
		zap.String("session_id", entry.SessionID),
		zap.String("ticket_id", tx.TicketID),
		zap.String("prior_state", string(prior)),
	)
	if st.session == nil {
		c.publisher.Publish(models.SessionEvent(*entry, st.last))
	}
	return entry.Clone(), true
}

// prepareSubmission applies operator input to a copy of s and validates it.
func (c *Coordinator) prepareSubmission(st *station, s models.WeighingSession, req SubmitRequest) (models.WeighingSession, error) {
	out := s.Clone()

	if req.GrossKg != nil && *req.GrossKg != 0 {
		if math.Abs(*req.GrossKg-s.GrossKg) > st.detector.Config().ThresholdKg {
			return s, &models.ValidationError{
				SessionID: s.SessionID,
				Field:     "gross",
				Reason:    fmt.Sprintf("%.1f does not match captured %.1f", *req.GrossKg, s.GrossKg),
			}
		}
	}
	if req.TareKg != nil && *req.TareKg != out.TareKg {
		out.SetTare(*req.TareKg, models.TareManual)
	}
	if plate := anpr.NormalizePlate(req.PlateNumber); plate != "" && plate != out.PlateNumber {
		out.PlateNumber = plate
		out.PlateSource = models.PlateManual
	}
	if v := strings.TrimSpace(req.Driver); v != "" {
		out.Driver = v
	}
	if v := strings.TrimSpace(req.Vendor); v != "" {
		out.Vendor = v
	}
	if v := strings.TrimSpace(req.PONumber); v != "" {
		out.PONumber = v
	}

	if err := submission.Validate(out); err != nil {
		return s, err
	}
	return out, nil
}

// Cancel ends the active session of a scale. A session being persisted ends
// FAILED and its submission is interrupted; any other ends ABANDONED.
func (c *Coordinator) Cancel(ctx context.Context, scaleID int, reason string) (models.WeighingSession, error) {
	st, err := c.station(scaleID)
	if err != nil {
		return models.WeighingSession{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.session
	if s == nil {
		return models.WeighingSession{}, fmt.Errorf("scale %d: %w", scaleID, models.ErrNoActiveSession)
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "cancelled by operator"
	}

	state := models.StateAbandoned
	if s.State == models.StateSubmitting {
		state = models.StateFailed
	}
	c.endLocked(st, state, reason)
	return s.Clone(), nil
}
