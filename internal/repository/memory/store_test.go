package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
	"github.com/mamadbah2/stoneweigh/internal/repository"
)

func TestCommitAssignsSequentialTickets(t *testing.T) {
	store := NewTransactionStore(repository.FirstTicketNumber)
	ctx := context.Background()

	a, err := store.Commit(ctx, models.Transaction{SessionID: "a", GrossKg: 24500, TareKg: 8000})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	b, _ := store.Commit(ctx, models.Transaction{SessionID: "b", GrossKg: 18000})

	if a.TicketID != "T-1001" || b.TicketID != "T-1002" {
		t.Errorf("tickets = %s, %s; want T-1001, T-1002", a.TicketID, b.TicketID)
	}
	if a.NetKg != 16500 {
		t.Errorf("net = %v, want 16500", a.NetKg)
	}
	if a.InvoiceRef == "" || a.CommittedAt.IsZero() {
		t.Errorf("invoice ref or commit time missing: %+v", a)
	}
}

func TestCommitIsIdempotentPerSession(t *testing.T) {
	store := NewTransactionStore(repository.FirstTicketNumber)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]models.Transaction, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := store.Commit(ctx, models.Transaction{SessionID: "a", GrossKg: 24500})
			if err != nil {
				t.Errorf("Commit failed: %v", err)
			}
			results[i] = tx
		}(i)
	}
	wg.Wait()

	for _, tx := range results {
		if tx.TicketID != "T-1001" {
			t.Fatalf("concurrent commit produced ticket %s", tx.TicketID)
		}
	}

	next, _ := store.Commit(ctx, models.Transaction{SessionID: "b", GrossKg: 1000})
	if next.TicketID != "T-1002" {
		t.Errorf("duplicate commits consumed ticket numbers: next = %s", next.TicketID)
	}
}

func TestFindBySession(t *testing.T) {
	store := NewTransactionStore(0)
	ctx := context.Background()

	if _, err := store.FindBySession(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	committed, _ := store.Commit(ctx, models.Transaction{SessionID: "a", GrossKg: 1})
	found, err := store.FindBySession(ctx, "a")
	if err != nil || found.TicketID != committed.TicketID {
		t.Fatalf("FindBySession = %+v, %v", found, err)
	}
}

func TestCommitRequiresSessionID(t *testing.T) {
	store := NewTransactionStore(0)
	if _, err := store.Commit(context.Background(), models.Transaction{}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTareLookupPrefersVehicle(t *testing.T) {
	tares := NewTareStore()
	tares.SetScaleTare(1, 150)
	tares.SetVehicleTare("b 8187 xy", 8200)
	ctx := context.Background()

	kg, source, ok, _ := tares.LookupTare(ctx, 1, "B 8187 XY")
	if !ok || kg != 8200 || source != models.TareVehicle {
		t.Errorf("vehicle lookup = %v %v %v", kg, source, ok)
	}
	kg, source, ok, _ = tares.LookupTare(ctx, 1, "")
	if !ok || kg != 150 || source != models.TareScale {
		t.Errorf("scale lookup = %v %v %v", kg, source, ok)
	}
	if _, _, ok, _ = tares.LookupTare(ctx, 2, "UNKNOWN"); ok {
		t.Error("lookup on unknown scale and plate reported a record")
	}
}
