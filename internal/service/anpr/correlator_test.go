package anpr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
)

type recognizerFunc func(ctx context.Context, req models.ANPRRequest) (Recognition, error)

func (f recognizerFunc) Recognize(ctx context.Context, req models.ANPRRequest) (Recognition, error) {
	return f(ctx, req)
}

func deferred() Recognizer {
	return recognizerFunc(func(context.Context, models.ANPRRequest) (Recognition, error) {
		return Recognition{}, ErrResultDeferred
	})
}

type resolutions struct {
	mu  sync.Mutex
	got []models.ANPRRequest
	ch  chan models.ANPRRequest
}

func newResolutions() *resolutions {
	return &resolutions{ch: make(chan models.ANPRRequest, 8)}
}

func (r *resolutions) record(req models.ANPRRequest) {
	r.mu.Lock()
	r.got = append(r.got, req)
	r.mu.Unlock()
	r.ch <- req
}

func (r *resolutions) wait(t *testing.T) models.ANPRRequest {
	t.Helper()
	select {
	case req := <-r.ch:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no resolution delivered")
		return models.ANPRRequest{}
	}
}

func TestEngineResultResolvesRequest(t *testing.T) {
	engine := recognizerFunc(func(_ context.Context, req models.ANPRRequest) (Recognition, error) {
		return Recognition{Plate: " b  8187 xy "}, nil
	})
	c := NewCorrelator(engine, time.Second, zaptest.NewLogger(t))
	res := newResolutions()
	c.OnResolve(res.record)

	req, err := c.RequestPlate(context.Background(), "s-1", 1)
	if err != nil {
		t.Fatalf("RequestPlate failed: %v", err)
	}
	if req.Outcome != models.ANPRPending || req.Resolved() {
		t.Fatalf("request returned resolved: %+v", req)
	}

	got := res.wait(t)
	if got.RequestID != req.RequestID || got.SessionID != "s-1" {
		t.Errorf("resolution not matched to request: %+v", got)
	}
	if got.Plate != "B 8187 XY" || got.Outcome != models.ANPRRecognized {
		t.Errorf("unexpected resolution %+v", got)
	}
}

func TestCallbackResolvesDeferredRequest(t *testing.T) {
	c := NewCorrelator(deferred(), time.Second, nil)
	res := newResolutions()
	c.OnResolve(res.record)

	req, _ := c.RequestPlate(context.Background(), "s-1", 1)
	if err := c.Resolve("unknown", "B 1"); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("expected ErrUnknownRequest for foreign id, got %v", err)
	}
	if err := c.Resolve(req.RequestID, "K 8324 QD"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	got := res.wait(t)
	if got.Plate != "K 8324 QD" {
		t.Errorf("plate = %q", got.Plate)
	}
	if err := c.Resolve(req.RequestID, "K 8324 QD"); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("second resolution accepted: %v", err)
	}
	if c.Pending() != 0 {
		t.Errorf("pending = %d after resolution", c.Pending())
	}
}

func TestTimeoutResolvesWithoutPlate(t *testing.T) {
	c := NewCorrelator(deferred(), 50*time.Millisecond, zaptest.NewLogger(t))
	res := newResolutions()
	c.OnResolve(res.record)

	start := time.Now()
	req, _ := c.RequestPlate(context.Background(), "s-1", 1)

	got := res.wait(t)
	if got.Outcome != models.ANPRTimeout || got.Plate != "" {
		t.Fatalf("expected empty timeout resolution, got %+v", got)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("resolved after %v, before the timeout", elapsed)
	}
	if err := c.Resolve(req.RequestID, "LATE 1"); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("late callback accepted after timeout: %v", err)
	}
}

func TestSecondRequestWhileInFlightRejected(t *testing.T) {
	c := NewCorrelator(deferred(), time.Second, nil)
	res := newResolutions()
	c.OnResolve(res.record)

	req, err := c.RequestPlate(context.Background(), "s-1", 1)
	if err != nil {
		t.Fatalf("RequestPlate failed: %v", err)
	}
	if _, err := c.RequestPlate(context.Background(), "s-1", 1); !errors.Is(err, models.ErrRequestInFlight) {
		t.Fatalf("expected ErrRequestInFlight, got %v", err)
	}
	if _, err := c.RequestPlate(context.Background(), "s-2", 2); err != nil {
		t.Fatalf("other session blocked: %v", err)
	}

	_ = c.Resolve(req.RequestID, "B 1")
	res.wait(t)

	if _, err := c.RequestPlate(context.Background(), "s-1", 1); err != nil {
		t.Fatalf("new request after resolution rejected: %v", err)
	}
}

func TestAwaitReturnsResolution(t *testing.T) {
	c := NewCorrelator(deferred(), time.Second, nil)
	c.OnResolve(func(models.ANPRRequest) {})

	req, _ := c.RequestPlate(context.Background(), "s-1", 1)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = c.Resolve(req.RequestID, "H 1234 PR")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := c.Await(ctx, req.RequestID)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if got.Plate != "H 1234 PR" {
		t.Errorf("plate = %q", got.Plate)
	}
}

func TestCancelSkipsCallback(t *testing.T) {
	c := NewCorrelator(deferred(), 50*time.Millisecond, nil)
	res := newResolutions()
	c.OnResolve(res.record)

	req, _ := c.RequestPlate(context.Background(), "s-1", 1)
	if !c.Cancel("s-1") {
		t.Fatal("Cancel reported nothing outstanding")
	}

	select {
	case got := <-res.ch:
		t.Fatalf("cancelled request notified: %+v", got)
	case <-time.After(150 * time.Millisecond):
	}
	if err := c.Resolve(req.RequestID, "B 1"); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("cancelled request still resolvable: %v", err)
	}
}

func TestEngineFailureResolvesUnavailable(t *testing.T) {
	engine := recognizerFunc(func(context.Context, models.ANPRRequest) (Recognition, error) {
		return Recognition{}, errors.New("camera offline")
	})
	c := NewCorrelator(engine, time.Second, zaptest.NewLogger(t))
	res := newResolutions()
	c.OnResolve(res.record)

	_, _ = c.RequestPlate(context.Background(), "s-1", 1)
	got := res.wait(t)
	if got.Outcome != models.ANPRUnavailable || got.Plate != "" {
		t.Errorf("unexpected resolution %+v", got)
	}
}

func TestSimulatedRecognizerFlagsResult(t *testing.T) {
	c := NewCorrelator(SimulatedRecognizer{}, time.Second, nil)
	res := newResolutions()
	c.OnResolve(res.record)

	_, _ = c.RequestPlate(context.Background(), "s-1", 1)
	got := res.wait(t)
	if got.Outcome != models.ANPRSimulated || got.Plate == "" {
		t.Errorf("unexpected resolution %+v", got)
	}
}
