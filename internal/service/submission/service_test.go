package submission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
	"github.com/mamadbah2/stoneweigh/internal/repository"
	"github.com/mamadbah2/stoneweigh/internal/repository/memory"
)

// flakyStore fails the first failures commits before delegating to memory.
type flakyStore struct {
	*memory.TransactionStore
	failures atomic.Int32
	commits  atomic.Int32
	delay    time.Duration
}

func newFlakyStore(failures int32) *flakyStore {
	s := &flakyStore{TransactionStore: memory.NewTransactionStore(repository.FirstTicketNumber)}
	s.failures.Store(failures)
	return s
}

func (s *flakyStore) Commit(ctx context.Context, draft models.Transaction) (models.Transaction, error) {
	s.commits.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.failures.Add(-1) >= 0 {
		return models.Transaction{}, errors.New("connection reset by peer")
	}
	return s.TransactionStore.Commit(ctx, draft)
}

type recordingLedger struct {
	mu   sync.Mutex
	rows []models.Transaction
	err  error
}

func (l *recordingLedger) Append(_ context.Context, tx models.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, tx)
	return l.err
}

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func readySession(id string) models.WeighingSession {
	s := models.WeighingSession{SessionID: id, ScaleID: 1, State: models.StateSubmitting, PlateNumber: "B 8187 XY"}
	s.SetGross(24500)
	s.SetTare(8000, models.TareVehicle)
	return s
}

func TestSubmitCommitsAndIsIdempotent(t *testing.T) {
	store := newFlakyStore(0)
	ledger := &recordingLedger{}
	svc := NewService(store, ledger, fastConfig(3), zaptest.NewLogger(t))
	ctx := context.Background()

	first, err := svc.Submit(ctx, readySession("s-1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if first.Duplicate || first.Transaction.TicketID != "T-1001" {
		t.Fatalf("unexpected receipt %+v", first)
	}
	if first.Transaction.NetKg != 16500 {
		t.Errorf("net = %v, want 16500", first.Transaction.NetKg)
	}

	again, err := svc.Submit(ctx, readySession("s-1"))
	if err != nil {
		t.Fatalf("repeated Submit failed: %v", err)
	}
	if !again.Duplicate || again.Transaction.TicketID != "T-1001" {
		t.Errorf("repeated submit = %+v, want duplicate T-1001", again)
	}
	if store.commits.Load() != 1 {
		t.Errorf("store commits = %d, want 1", store.commits.Load())
	}
	if len(ledger.rows) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(ledger.rows))
	}
}

func TestSubmitRejectsInvalidSessions(t *testing.T) {
	store := newFlakyStore(0)
	svc := NewService(store, nil, fastConfig(3), nil)

	tests := map[string]func(s *models.WeighingSession){
		"gross equals tare": func(s *models.WeighingSession) { s.SetGross(8000) },
		"negative tare":     func(s *models.WeighingSession) { s.SetTare(-1, models.TareManual) },
		"missing id":        func(s *models.WeighingSession) { s.SessionID = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			session := readySession("s-invalid")
			mutate(&session)
			_, err := svc.Submit(context.Background(), session)
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
	if store.commits.Load() != 0 {
		t.Errorf("invalid sessions reached the store %d time(s)", store.commits.Load())
	}
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	store := newFlakyStore(2)
	svc := NewService(store, nil, fastConfig(3), zaptest.NewLogger(t))

	receipt, err := svc.Submit(context.Background(), readySession("s-1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if receipt.Transaction.TicketID == "" {
		t.Error("no ticket assigned")
	}
	if store.commits.Load() != 3 {
		t.Errorf("commits = %d, want 3", store.commits.Load())
	}
}

func TestSubmitReportsExhaustion(t *testing.T) {
	store := newFlakyStore(10)
	svc := NewService(store, nil, fastConfig(3), zaptest.NewLogger(t))

	_, err := svc.Submit(context.Background(), readySession("s-1"))
	var perr *models.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if perr.SessionID != "s-1" || perr.Attempts != 3 {
		t.Errorf("unexpected error detail %+v", perr)
	}
	if !errors.Is(err, models.ErrPersistence) {
		t.Error("PersistenceError does not match ErrPersistence")
	}
	if _, err := store.FindBySession(context.Background(), "s-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("failed submission left a record: %v", err)
	}
}

func TestConcurrentSubmitsCommitOnce(t *testing.T) {
	store := newFlakyStore(0)
	store.delay = 20 * time.Millisecond
	svc := NewService(store, nil, fastConfig(3), nil)

	var wg sync.WaitGroup
	tickets := make([]string, 8)
	for i := range tickets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipt, err := svc.Submit(context.Background(), readySession("s-1"))
			if err != nil {
				t.Errorf("Submit failed: %v", err)
				return
			}
			tickets[i] = receipt.Transaction.TicketID
		}(i)
	}
	wg.Wait()

	for _, ticket := range tickets {
		if ticket != "T-1001" {
			t.Fatalf("tickets = %v, want all T-1001", tickets)
		}
	}
}

func TestLedgerFailureDoesNotFailCommit(t *testing.T) {
	store := newFlakyStore(0)
	ledger := &recordingLedger{err: errors.New("quota exceeded")}
	svc := NewService(store, ledger, fastConfig(1), zaptest.NewLogger(t))

	if _, err := svc.Submit(context.Background(), readySession("s-1")); err != nil {
		t.Fatalf("ledger failure surfaced: %v", err)
	}
}

func TestFindReportsCommittedTransaction(t *testing.T) {
	svc := NewService(newFlakyStore(0), nil, fastConfig(1), zaptest.NewLogger(t))
	ctx := context.Background()

	if _, ok, err := svc.Find(ctx, "s-1"); err != nil || ok {
		t.Fatalf("Find before commit = %v, %v", ok, err)
	}
	if _, err := svc.Submit(ctx, readySession("s-1")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	tx, ok, err := svc.Find(ctx, "s-1")
	if err != nil || !ok {
		t.Fatalf("Find after commit = %v, %v", ok, err)
	}
	if tx.TicketID != "T-1001" {
		t.Errorf("ticket = %q", tx.TicketID)
	}
}
