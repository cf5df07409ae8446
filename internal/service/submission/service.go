// Package submission turns a ready weighing session into a committed
// transaction exactly once.
package submission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
	"github.com/mamadbah2/stoneweigh/internal/repository"
)

// Store persists transactions. Commit must be idempotent per session id and
// FindBySession returns repository.ErrNotFound for unknown sessions.
type Store interface {
	FindBySession(ctx context.Context, sessionID string) (models.Transaction, error)
	Commit(ctx context.Context, draft models.Transaction) (models.Transaction, error)
}

// Ledger receives committed transactions for export.
type Ledger interface {
	Append(ctx context.Context, tx models.Transaction) error
}

// Config bounds the retry policy for transient store failures.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns three attempts starting at 200ms.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second}
}

// Receipt is the outcome of a successful submission. Duplicate is set when the
// session had already been committed.
type Receipt struct {
	Transaction models.Transaction
	Duplicate   bool
}

// Service commits sessions to the store.
type Service struct {
	store  Store
	ledger Ledger
	cfg    Config
	group  singleflight.Group
	logger *zap.Logger
}

// NewService wires a submission service. ledger may be nil.
func NewService(store Store, ledger Ledger, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.InitialBackoff)
	}
	return &Service{store: store, ledger: ledger, cfg: cfg, logger: logger}
}

// Validate checks that a session can become a transaction.
func Validate(s models.WeighingSession) error {
	switch {
	case strings.TrimSpace(s.SessionID) == "":
		return &models.ValidationError{Field: "session_id", Reason: "is required"}
	case math.IsNaN(s.GrossKg) || math.IsInf(s.GrossKg, 0):
		return &models.ValidationError{SessionID: s.SessionID, Field: "gross", Reason: "is not a number"}
	case math.IsNaN(s.TareKg) || math.IsInf(s.TareKg, 0):
		return &models.ValidationError{SessionID: s.SessionID, Field: "tare", Reason: "is not a number"}
	case s.TareKg < 0:
		return &models.ValidationError{SessionID: s.SessionID, Field: "tare", Reason: "must not be negative"}
	case s.GrossKg <= s.TareKg:
		return &models.ValidationError{SessionID: s.SessionID, Field: "gross", Reason: "must exceed tare"}
	}
	return nil
}

// Submit commits the session. A session that already has a transaction gets
// the existing one back; concurrent calls for one session share an attempt.
func (s *Service) Submit(ctx context.Context, session models.WeighingSession) (Receipt, error) {
	if err := Validate(session); err != nil {
		return Receipt{}, err
	}

	ch := s.group.DoChan(session.SessionID, func() (any, error) {
		return s.submit(ctx, session)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Receipt{}, res.Err
		}
		return res.Val.(Receipt), nil
	case <-ctx.Done():
		return Receipt{}, &models.PersistenceError{SessionID: session.SessionID, Err: ctx.Err()}
	}
}

// Find returns the transaction committed for sessionID. ok is false when the
// session has none.
func (s *Service) Find(ctx context.Context, sessionID string) (models.Transaction, bool, error) {
	tx, err := s.store.FindBySession(ctx, sessionID)
	switch {
	case err == nil:
		return tx, true, nil
	case errors.Is(err, repository.ErrNotFound):
		return models.Transaction{}, false, nil
	default:
		return models.Transaction{}, false, fmt.Errorf("find transaction of session %s: %w", sessionID, err)
	}
}

func (s *Service) submit(ctx context.Context, session models.WeighingSession) (Receipt, error) {
	logger := s.logger.With(zap.String("session_id", session.SessionID), zap.Int("scale_id", session.ScaleID))

	existing, err := s.store.FindBySession(ctx, session.SessionID)
	switch {
	case err == nil:
		logger.Info("session already committed", zap.String("ticket_id", existing.TicketID))
		return Receipt{Transaction: existing, Duplicate: true}, nil
	case !errors.Is(err, repository.ErrNotFound):
		// Commit is idempotent, so a failed lookup still falls through to it.
		logger.Warn("lookup before commit failed", zap.Error(err))
	}

	draft := models.TransactionFromSession(session)
	attempts := 0
	operation := func() (models.Transaction, error) {
		attempts++
		tx, err := s.store.Commit(ctx, draft)
		if err != nil {
			if errors.Is(err, models.ErrValidation) {
				return tx, backoff.Permanent(err)
			}
			logger.Warn("commit attempt failed", zap.Int("attempt", attempts), zap.Error(err))
			return tx, err
		}
		return tx, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.InitialBackoff
	policy.MaxInterval = s.cfg.MaxBackoff

	tx, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(s.cfg.MaxAttempts)),
	)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			return Receipt{}, err
		}
		logger.Error("transaction not committed", zap.Int("attempts", attempts), zap.Error(err))
		return Receipt{}, &models.PersistenceError{SessionID: session.SessionID, Attempts: attempts, Err: err}
	}

	logger.Info("transaction committed",
		zap.String("ticket_id", tx.TicketID),
		zap.Float64("net_kg", tx.NetKg),
		zap.Int("attempts", attempts),
	)

	if s.ledger != nil {
		if err := s.ledger.Append(context.WithoutCancel(ctx), tx); err != nil {
			logger.Warn("ledger export failed", zap.String("ticket_id", tx.TicketID), zap.Error(err))
		}
	}

	return Receipt{Transaction: tx}, nil
}
