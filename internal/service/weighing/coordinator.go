// Package weighing owns the lifecycle of weighing sessions: one station per
// scale, fed by that scale's readings and by operator commands.
package weighing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
	"github.com/mamadbah2/stoneweigh/internal/service/submission"
	"github.com/mamadbah2/stoneweigh/internal/stability"
)

const tareLookupTimeout = 2 * time.Second

// Config holds session lifecycle limits.
type Config struct {
	Stability        stability.Config
	StabilityTimeout time.Duration
	SessionTimeout   time.Duration
	SubmitRetryLimit int
	HistorySize      int
}

// DefaultConfig returns the stock lifecycle limits.
func DefaultConfig() Config {
	return Config{
		Stability:        stability.DefaultConfig(),
		StabilityTimeout: 60 * time.Second,
		SessionTimeout:   10 * time.Minute,
		SubmitRetryLimit: 3,
		HistorySize:      20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StabilityTimeout <= 0 {
		c.StabilityTimeout = def.StabilityTimeout
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = def.SessionTimeout
	}
	if c.SubmitRetryLimit <= 0 {
		c.SubmitRetryLimit = def.SubmitRetryLimit
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	return c
}

// ReadingSource produces the readings of one scale.
type ReadingSource interface {
	ScaleID() int
	Readings(ctx context.Context) (<-chan models.ScaleReading, error)
}

// PlateRequester is the plate recognition collaborator.
type PlateRequester interface {
	RequestPlate(ctx context.Context, sessionID string, scaleID int) (models.ANPRRequest, error)
	Await(ctx context.Context, requestID string) (models.ANPRRequest, error)
	Cancel(sessionID string) bool
	OnResolve(fn func(models.ANPRRequest))
}

// Submitter commits ready sessions.
type Submitter interface {
	Submit(ctx context.Context, session models.WeighingSession) (submission.Receipt, error)
	Find(ctx context.Context, sessionID string) (models.Transaction, bool, error)
}

// TareProvider looks up a tare on record for a scale or vehicle.
type TareProvider interface {
	LookupTare(ctx context.Context, scaleID int, plate string) (float64, models.TareSource, bool, error)
}

// Publisher receives stream events.
type Publisher interface {
	Publish(ev models.Event)
}

// Deps are the collaborators of a Coordinator. Tares and Publisher may be nil.
type Deps struct {
	Plates    PlateRequester
	Submitter Submitter
	Tares     TareProvider
	Publisher Publisher
	Locks     *LockRegistry
	Logger    *zap.Logger
}

// ScaleStatus is the externally visible state of one scale.
type ScaleStatus struct {
	ScaleID       int                     `json:"scale_id"`
	State         models.SessionState     `json:"state"`
	Weight        float64                 `json:"weight"`
	Connected     bool                    `json:"connected"`
	LastReadingAt *time.Time              `json:"last_reading_at,omitempty"`
	Session       *models.WeighingSession `json:"session,omitempty"`
	Lock          *models.CaptureLock     `json:"lock,omitempty"`
}

// station is the per-scale session store. Its mutex serialises readings and
// commands for the scale.
type station struct {
	mu       sync.Mutex
	id       int
	detector *stability.Detector
	last     models.ScaleReading
	seen     bool

	session      *models.WeighingSession
	progressAt   time.Time
	cancelSubmit context.CancelFunc
	inflight     *submitCall

	// set after a session ends on a loaded deck; cleared once the deck reads empty
	awaitingDeparture bool

	history []models.WeighingSession
}

// Coordinator drives every configured scale.
type Coordinator struct {
	cfg       Config
	stations  map[int]*station
	scaleIDs  []int
	locks     *LockRegistry
	plates    PlateRequester
	submitter Submitter
	tares     TareProvider
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

type nopPublisher struct{}

func (nopPublisher) Publish(models.Event) {}

// NewCoordinator builds a coordinator for the given scales and registers
// itself for plate resolutions.
func NewCoordinator(scaleIDs []int, cfg Config, deps Deps) *Coordinator {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = nopPublisher{}
	}
	locks := deps.Locks
	if locks == nil {
		locks = NewLockRegistry()
	}

	c := &Coordinator{
		cfg:       cfg,
		stations:  make(map[int]*station, len(scaleIDs)),
		locks:     locks,
		plates:    deps.Plates,
		submitter: deps.Submitter,
		tares:     deps.Tares,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, id := range scaleIDs {
		if _, dup := c.stations[id]; dup {
			continue
		}
		c.stations[id] = &station{id: id, detector: stability.New(cfg.Stability)}
		c.scaleIDs = append(c.scaleIDs, id)
	}
	sort.Ints(c.scaleIDs)

	if c.plates != nil {
		c.plates.OnResolve(c.onPlateResolved)
	}
	return c
}

// ScaleIDs lists the configured scales in ascending order.
func (c *Coordinator) ScaleIDs() []int {
	return append([]int(nil), c.scaleIDs...)
}

func (c *Coordinator) station(scaleID int) (*station, error) {
	st, ok := c.stations[scaleID]
	if !ok {
		return nil, fmt.Errorf("scale %d: %w", scaleID, models.ErrUnknownScale)
	}
	return st, nil
}

// Run consumes every source until ctx is cancelled. A failing source only
// stops its own scale.
func (c *Coordinator) Run(ctx context.Context, sources ...ReadingSource) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			logger := c.logger.With(zap.Int("scale_id", src.ScaleID()))
			readings, err := src.Readings(gctx)
			if err != nil {
				logger.Error("scale source failed to start", zap.Error(err))
				return nil
			}
			logger.Info("scale pipeline started")
			for r := range readings {
				if err := c.HandleReading(gctx, r); err != nil {
					logger.Warn("reading rejected", zap.Error(err))
				}
			}
			logger.Info("scale pipeline stopped")
			return nil
		})
	}
	return g.Wait()
}

// HandleReading applies one reading to its scale. Sensor-level problems are
// reflected in state and never returned; only an unknown scale is an error.
func (c *Coordinator) HandleReading(ctx context.Context, r models.ScaleReading) error {
	st, err := c.station(r.ScaleID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	wasConnected := !st.seen || st.last.Connected
	st.last = r
	st.seen = true
	c.publisher.Publish(models.ReadingEvent(r))

	sig := st.detector.Observe(r)
	if !r.Connected {
		if wasConnected {
			c.logger.Warn("scale disconnected", zap.Int("scale_id", st.id), zap.Error(models.ErrScaleDisconnected))
		}
		return nil
	}
	if !wasConnected {
		c.logger.Info("scale reconnected", zap.Int("scale_id", st.id))
	}

	if !sig.Occupied {
		st.awaitingDeparture = false
		if sig.Departed && st.session != nil && st.session.State == models.StateWeighing {
			c.endLocked(st, models.StateAbandoned, "vehicle departed before capture")
		}
		return nil
	}

	if st.session == nil {
		if st.awaitingDeparture {
			return nil
		}
		if _, err := c.openLocked(st, "occupied reading"); err != nil {
			c.logger.Warn("session not opened", zap.Int("scale_id", st.id), zap.Error(err))
			return nil
		}
	}

	if st.session.State == models.StateWeighing && sig.Stable {
		c.captureLocked(ctx, st, sig.WeightKg, models.CaptureAuto)
	}
	return nil
}

func (c *Coordinator) openLocked(st *station, reason string) (*models.WeighingSession, error) {
	id := c.newID()
	if _, err := c.locks.Acquire(st.id, id); err != nil {
		return nil, err
	}
	now := c.now()
	st.session = &models.WeighingSession{
		SessionID: id,
		ScaleID:   st.id,
		State:     models.StateWeighing,
		OpenedAt:  now,
		UpdatedAt: now,
	}
	st.progressAt = now
	st.awaitingDeparture = false

	c.logger.Info("session opened",
		zap.Int("scale_id", st.id),
		zap.String("session_id", id),
		zap.String("reason", reason),
	)
	c.publishLocked(st)
	return st.session, nil
}

func (c *Coordinator) captureLocked(ctx context.Context, st *station, weight float64, mode models.CaptureMode) {
	s := st.session
	now := c.now()
	s.SetGross(weight)
	s.CaptureMode = mode
	s.CapturedAt = &now
	s.StabilityTimedOut = false
	c.applyTareLocked(ctx, st, s.PlateNumber)
	c.transitionLocked(st, models.StateStableCaptured)

	if err := c.requestPlateLocked(ctx, st); err != nil {
		c.logger.Warn("plate request failed", zap.String("session_id", s.SessionID), zap.Error(err))
	}
}

// applyTareLocked records a tare on record, keeping one the operator typed in.
func (c *Coordinator) applyTareLocked(ctx context.Context, st *station, plate string) {
	s := st.session
	if s.TareSource == models.TareManual || s.TareSource == models.TareVehicle {
		return
	}
	if s.TareSource == "" {
		s.SetTare(0, models.TareDefault)
	}
	if c.tares == nil {
		return
	}

	lctx, cancel := context.WithTimeout(ctx, tareLookupTimeout)
	defer cancel()
	kg, source, ok, err := c.tares.LookupTare(lctx, st.id, plate)
	if err != nil {
		c.logger.Warn("tare lookup failed", zap.String("session_id", s.SessionID), zap.Error(err))
		return
	}
	if ok {
		s.SetTare(kg, source)
	}
}

func (c *Coordinator) requestPlateLocked(ctx context.Context, st *station) error {
	s := st.session
	if c.plates == nil {
		s.PlateSource = models.PlateTimeout
		if s.State == models.StateStableCaptured {
			c.transitionLocked(st, models.StateReadyToSubmit)
		}
		return nil
	}

	req, err := c.plates.RequestPlate(ctx, s.SessionID, st.id)
	if err != nil {
		if s.State == models.StateStableCaptured {
			s.LastError = err.Error()
			s.PlateSource = models.PlateTimeout
			c.transitionLocked(st, models.StateReadyToSubmit)
		}
		return err
	}
	s.ANPR = &req
	if s.State == models.StateStableCaptured {
		c.transitionLocked(st, models.StateAwaitingPlate)
	} else {
		c.touchLocked(st)
	}
	return nil
}

// cancelPlateLocked abandons an outstanding plate request of the active session.
func (c *Coordinator) cancelPlateLocked(st *station) {
	s := st.session
	if c.plates == nil || s.ANPR == nil || s.ANPR.Resolved() {
		return
	}
	if c.plates.Cancel(s.SessionID) {
		now := c.now()
		s.ANPR.Outcome = models.ANPRCancelled
		s.ANPR.ResolvedAt = &now
	}
}

// onPlateResolved runs on the correlator's goroutine for every resolution.
func (c *Coordinator) onPlateResolved(req models.ANPRRequest) {
	st, err := c.station(req.ScaleID)
	if err != nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.session
	if s == nil || s.SessionID != req.SessionID || s.ANPR == nil || s.ANPR.RequestID != req.RequestID {
		c.logger.Debug("stale plate resolution ignored", zap.String("request_id", req.RequestID))
		return
	}
	if s.State != models.StateAwaitingPlate && s.State != models.StateReadyToSubmit {
		c.logger.Debug("plate resolution ignored",
			zap.String("request_id", req.RequestID),
			zap.String("state", string(s.State)))
		return
	}

	resolved := req.Clone()
	s.ANPR = &resolved
	switch req.Outcome {
	case models.ANPRRecognized:
		s.PlateNumber, s.PlateSource = req.Plate, models.PlateRecognized
	case models.ANPRSimulated:
		s.PlateNumber, s.PlateSource = req.Plate, models.PlateSimulated
	default:
		if s.PlateNumber == "" {
			s.PlateSource = models.PlateTimeout
			s.LastError = fmt.Errorf("plate request %s %s: %w", req.RequestID, req.Outcome, models.ErrANPRTimeout).Error()
		}
	}
	if s.PlateNumber != "" {
		c.applyTareLocked(context.Background(), st, s.PlateNumber)
	}

	c.logger.Info("plate resolved",
		zap.String("session_id", s.SessionID),
		zap.String("plate", s.PlateNumber),
		zap.String("outcome", string(req.Outcome)),
	)

	if s.State == models.StateAwaitingPlate {
		c.transitionLocked(st, models.StateReadyToSubmit)
		return
	}
	c.touchLocked(st)
}

// transitionLocked moves the active session to state. Terminal states release
// the capture lock and archive the session.
func (c *Coordinator) transitionLocked(st *station, state models.SessionState) {
	s := st.session
	from := s.State
	now := c.now()
	s.State = state
	s.UpdatedAt = now
	st.progressAt = now

	if state.IsTerminal() {
		s.EndedAt = &now
		if st.cancelSubmit != nil {
			st.cancelSubmit()
			st.cancelSubmit = nil
		}
		if c.plates != nil {
			c.plates.Cancel(s.SessionID)
		}
		c.locks.Release(st.id, s.SessionID)
		st.awaitingDeparture = st.last.Connected && !st.detector.IsNearZero(st.last.WeightKg)
	}

	c.logger.Info("session transition",
		zap.Int("scale_id", st.id),
		zap.String("session_id", s.SessionID),
		zap.String("from", string(from)),
		zap.String("to", string(state)),
	)
	c.publishLocked(st)

	if state.IsTerminal() {
		st.archive(s.Clone(), c.cfg.HistorySize)
		st.session = nil
	}
}

func (c *Coordinator) endLocked(st *station, state models.SessionState, reason string) {
	st.session.EndReason = reason
	c.transitionLocked(st, state)
}

// touchLocked publishes a change that is not a state transition.
func (c *Coordinator) touchLocked(st *station) {
	st.session.UpdatedAt = c.now()
	c.publishLocked(st)
}

func (c *Coordinator) publishLocked(st *station) {
	c.publisher.Publish(models.SessionEvent(*st.session, st.last))
}

func (st *station) archive(s models.WeighingSession, limit int) {
	st.history = append(st.history, s)
	if over := len(st.history) - limit; over > 0 {
		st.history = append(st.history[:0], st.history[over:]...)
	}
}

func (st *station) findHistory(sessionID string) (models.WeighingSession, bool) {
	for i := len(st.history) - 1; i >= 0; i-- {
		if st.history[i].SessionID == sessionID {
			return st.history[i].Clone(), true
		}
	}
	return models.WeighingSession{}, false
}

func (st *station) latestHistory() (models.WeighingSession, bool) {
	if len(st.history) == 0 {
		return models.WeighingSession{}, false
	}
	return st.history[len(st.history)-1].Clone(), true
}

// historyEntry returns the archived session in place, or nil.
func (st *station) historyEntry(sessionID string) *models.WeighingSession {
	for i := len(st.history) - 1; i >= 0; i-- {
		if st.history[i].SessionID == sessionID {
			return &st.history[i]
		}
	}
	return nil
}

// ExpireStale abandons sessions without forward progress for SessionTimeout
// and flags WEIGHING sessions that never settled within StabilityTimeout.
// It returns the number of sessions abandoned.
func (c *Coordinator) ExpireStale(now time.Time) int {
	expired := 0
	for _, id := range c.scaleIDs {
		st := c.stations[id]
		st.mu.Lock()
		s := st.session
		switch {
		case s == nil:
		case now.Sub(st.progressAt) >= c.cfg.SessionTimeout:
			c.endLocked(st, models.StateAbandoned, "session timeout")
			expired++
		case s.State == models.StateWeighing && !s.StabilityTimedOut && now.Sub(s.OpenedAt) >= c.cfg.StabilityTimeout:
			s.StabilityTimedOut = true
			s.LastError = models.ErrStabilityTimeout.Error()
			c.logger.Warn("no stable reading",
				zap.Int("scale_id", st.id),
				zap.String("session_id", s.SessionID),
				zap.Error(models.ErrStabilityTimeout),
			)
			c.touchLocked(st)
		}
		st.mu.Unlock()
	}
	return expired
}

// Snapshot returns the state of every scale.
func (c *Coordinator) Snapshot() []ScaleStatus {
	out := make([]ScaleStatus, 0, len(c.scaleIDs))
	for _, id := range c.scaleIDs {
		out = append(out, c.status(c.stations[id]))
	}
	return out
}

// Status returns the state of one scale.
func (c *Coordinator) Status(scaleID int) (ScaleStatus, error) {
	st, err := c.station(scaleID)
	if err != nil {
		return ScaleStatus{}, err
	}
	return c.status(st), nil
}

func (c *Coordinator) status(st *station) ScaleStatus {
	st.mu.Lock()
	defer st.mu.Unlock()

	status := ScaleStatus{
		ScaleID:   st.id,
		State:     models.StateIdle,
		Weight:    st.last.WeightKg,
		Connected: st.seen && st.last.Connected,
	}
	if st.seen {
		at := st.last.Timestamp
		status.LastReadingAt = &at
	}
	if st.session != nil {
		s := st.session.Clone()
		status.Session = &s
		status.State = s.State
	}
	if lock, ok := c.locks.Holder(st.id); ok {
		status.Lock = &lock
	}
	return status
}

// Session returns the active session of a scale.
func (c *Coordinator) Session(scaleID int) (models.WeighingSession, error) {
	st, err := c.station(scaleID)
	if err != nil {
		return models.WeighingSession{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.session == nil {
		return models.WeighingSession{}, fmt.Errorf("scale %d: %w", scaleID, models.ErrNoActiveSession)
	}
	return st.session.Clone(), nil
}

// History returns the ended sessions of a scale, newest first.
func (c *Coordinator) History(scaleID int) ([]models.WeighingSession, error) {
	st, err := c.station(scaleID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]models.WeighingSession, 0, len(st.history))
	for i := len(st.history) - 1; i >= 0; i-- {
		out = append(out, st.history[i].Clone())
	}
	return out, nil
}
