// Package anpr correlates plate recognition requests with their asynchronous
// results and enforces the recognition timeout.
package anpr

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
)

// DefaultTimeout bounds how long a session waits for a plate.
const DefaultTimeout = 5 * time.Second

var (
	// ErrResultDeferred is returned by a Recognizer whose result will arrive through Resolve.
	ErrResultDeferred = errors.New("anpr: result deferred to callback")
	// ErrUnknownRequest indicates the request id is not outstanding.
	ErrUnknownRequest = errors.New("anpr: unknown or already resolved request")
)

// Recognition is what an engine reports for one request.
type Recognition struct {
	Plate     string
	Simulated bool
}

// Recognizer is the external recognition collaborator.
type Recognizer interface {
	Recognize(ctx context.Context, req models.ANPRRequest) (Recognition, error)
}

// ResolveFunc receives every request resolved with notification.
type ResolveFunc = func(req models.ANPRRequest)

type pending struct {
	req     models.ANPRRequest
	cancel  context.CancelFunc
	claimed atomic.Bool
	done    chan struct{}
	result  models.ANPRRequest
}

// Correlator issues recognition requests and matches results back to them.
type Correlator struct {
	recognizer Recognizer
	timeout    time.Duration
	onResolve  ResolveFunc
	logger     *zap.Logger
	now        func() time.Time

	requests sync.Map // request id -> *pending
	sessions sync.Map // session id -> *pending
}

// NewCorrelator wires a correlator around the recognizer.
func NewCorrelator(recognizer Recognizer, timeout time.Duration, logger *zap.Logger) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		recognizer: recognizer,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

// OnResolve registers the resolution callback. It must be set before the
// first RequestPlate call and is invoked outside any correlator lock.
func (c *Correlator) OnResolve(fn ResolveFunc) {
	c.onResolve = fn
}

// Timeout returns the configured resolution bound.
func (c *Correlator) Timeout() time.Duration {
	return c.timeout
}

// RequestPlate issues a recognition request for the session and returns at once.
func (c *Correlator) RequestPlate(ctx context.Context, sessionID string, scaleID int) (models.ANPRRequest, error) {
	p := &pending{
		req: models.ANPRRequest{
			RequestID: uuid.NewString(),
			SessionID: sessionID,
			ScaleID:   scaleID,
			IssuedAt:  c.now(),
			Outcome:   models.ANPRPending,
		},
		done: make(chan struct{}),
	}

	// the request outlives the caller (typically an HTTP handler)
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	p.cancel = cancel

	if _, loaded := c.sessions.LoadOrStore(sessionID, p); loaded {
		cancel()
		return models.ANPRRequest{}, models.ErrRequestInFlight
	}
	c.requests.Store(p.req.RequestID, p)

	go c.watch(rctx, p)
	go c.dispatch(rctx, p)

	c.logger.Debug("anpr request issued",
		zap.String("request_id", p.req.RequestID),
		zap.String("session_id", sessionID),
		zap.Int("scale_id", scaleID))

	return p.req, nil
}

// Resolve delivers an out-of-band result for requestID.
func (c *Correlator) Resolve(requestID, plate string) error {
	value, ok := c.requests.Load(requestID)
	if !ok {
		return ErrUnknownRequest
	}
	outcome := models.ANPRRecognized
	plate = NormalizePlate(plate)
	if plate == "" {
		outcome = models.ANPRUnavailable
	}
	if !c.finish(value.(*pending), plate, outcome, true) {
		return ErrUnknownRequest
	}
	return nil
}

// Await blocks until requestID resolves or ctx ends.
func (c *Correlator) Await(ctx context.Context, requestID string) (models.ANPRRequest, error) {
	value, ok := c.requests.Load(requestID)
	if !ok {
		return models.ANPRRequest{}, ErrUnknownRequest
	}
	p := value.(*pending)
	select {
	case <-p.done:
		return p.result.Clone(), nil
	case <-ctx.Done():
		return models.ANPRRequest{}, ctx.Err()
	}
}

// Cancel abandons the outstanding request of a session without notifying OnResolve.
func (c *Correlator) Cancel(sessionID string) bool {
	value, ok := c.sessions.Load(sessionID)
	if !ok {
		return false
	}
	return c.finish(value.(*pending), "", models.ANPRCancelled, false)
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	n := 0
	c.requests.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (c *Correlator) watch(ctx context.Context, p *pending) {
	<-ctx.Done()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if c.finish(p, "", models.ANPRTimeout, true) {
			c.logger.Info("anpr request timed out, proceeding without plate",
				zap.String("request_id", p.req.RequestID),
				zap.String("session_id", p.req.SessionID),
				zap.Duration("timeout", c.timeout))
		}
	}
}

func (c *Correlator) dispatch(ctx context.Context, p *pending) {
	if c.recognizer == nil {
		return
	}

	rec, err := c.recognizer.Recognize(ctx, p.req)
	switch {
	case errors.Is(err, ErrResultDeferred):
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("anpr engine failed", zap.String("request_id", p.req.RequestID), zap.Error(err))
		c.finish(p, "", models.ANPRUnavailable, true)
	default:
		plate := NormalizePlate(rec.Plate)
		outcome := models.ANPRRecognized
		switch {
		case plate == "":
			outcome = models.ANPRUnavailable
		case rec.Simulated:
			outcome = models.ANPRSimulated
		}
		c.finish(p, plate, outcome, true)
	}
}

// finish resolves p exactly once. Losing callers return false without
// waiting, so Cancel never blocks on a callback in progress. The callback
// runs before the request is forgotten so that Await callers and session
// state agree.
func (c *Correlator) finish(p *pending, plate string, outcome models.ANPROutcome, notify bool) bool {
	if !p.claimed.CompareAndSwap(false, true) {
		return false
	}
	if p.cancel != nil {
		p.cancel()
	}

	resolvedAt := c.now()
	p.result = p.req
	p.result.ResolvedAt = &resolvedAt
	p.result.Plate = plate
	p.result.Outcome = outcome

	if notify && c.onResolve != nil {
		c.onResolve(p.result.Clone())
	}

	c.sessions.CompareAndDelete(p.req.SessionID, p)
	c.requests.Delete(p.req.RequestID)
	close(p.done)
	return true
}

// NormalizePlate upper-cases a plate and collapses its whitespace.
func NormalizePlate(plate string) string {
	return strings.Join(strings.Fields(strings.ToUpper(plate)), " ")
}
