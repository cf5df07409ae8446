// Package memory provides process-local stores for demo installations and tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
	"github.com/mamadbah2/stoneweigh/internal/repository"
)

// TransactionStore keeps committed transactions in memory. Commits are
// serialised per session id; the ticket counter is shared.
type TransactionStore struct {
	records sync.Map // session id -> models.Transaction
	locks   sync.Map // session id -> *sync.Mutex
	seq     atomic.Int64
	now     func() time.Time
}

// NewTransactionStore creates a store whose first ticket is firstTicket.
func NewTransactionStore(firstTicket int64) *TransactionStore {
	if firstTicket <= 0 {
		firstTicket = repository.FirstTicketNumber
	}
	s := &TransactionStore{now: time.Now}
	s.seq.Store(firstTicket - 1)
	return s
}

// Commit stores draft once per session id and returns the stored transaction.
func (s *TransactionStore) Commit(ctx context.Context, draft models.Transaction) (models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return models.Transaction{}, err
	}
	if strings.TrimSpace(draft.SessionID) == "" {
		return models.Transaction{}, &models.ValidationError{Field: "session_id", Reason: "is required"}
	}

	value, _ := s.locks.LoadOrStore(draft.SessionID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	if existing, ok := s.records.Load(draft.SessionID); ok {
		return existing.(models.Transaction), nil
	}

	seq := s.seq.Add(1)
	tx := draft
	tx.CommittedAt = s.now().UTC()
	tx.TicketID = repository.TicketID(seq)
	tx.InvoiceRef = repository.InvoiceRef(tx.CommittedAt, seq)
	tx.NetKg = tx.GrossKg - tx.TareKg

	s.records.Store(tx.SessionID, tx)
	return tx, nil
}

// FindBySession returns the transaction committed for sessionID.
func (s *TransactionStore) FindBySession(ctx context.Context, sessionID string) (models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return models.Transaction{}, err
	}
	value, ok := s.records.Load(sessionID)
	if !ok {
		return models.Transaction{}, repository.ErrNotFound
	}
	return value.(models.Transaction), nil
}

// TareStore keeps tare records per vehicle plate and per scale.
type TareStore struct {
	mu       sync.RWMutex
	vehicles map[string]float64
	scales   map[int]float64
}

// NewTareStore creates an empty tare store.
func NewTareStore() *TareStore {
	return &TareStore{vehicles: make(map[string]float64), scales: make(map[int]float64)}
}

// SetVehicleTare records the known empty weight of a vehicle.
func (s *TareStore) SetVehicleTare(plate string, kg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicles[strings.ToUpper(strings.TrimSpace(plate))] = kg
}

// SetScaleTare records the pre-tare configured for a scale.
func (s *TareStore) SetScaleTare(scaleID int, kg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scales[scaleID] = kg
}

// LookupTare prefers the vehicle record and falls back to the scale record.
func (s *TareStore) LookupTare(ctx context.Context, scaleID int, plate string) (float64, models.TareSource, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if plate = strings.ToUpper(strings.TrimSpace(plate)); plate != "" {
		if kg, ok := s.vehicles[plate]; ok {
			return kg, models.TareVehicle, true, nil
		}
	}
	if kg, ok := s.scales[scaleID]; ok {
		return kg, models.TareScale, true, nil
	}
	return 0, "", false, nil
}
