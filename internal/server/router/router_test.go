package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/mamadbah2/stoneweigh/internal/broadcast"
	"github.com/mamadbah2/stoneweigh/internal/domain/models"
	"github.com/mamadbah2/stoneweigh/internal/server/handlers"
	"github.com/mamadbah2/stoneweigh/internal/service/weighing"
)

type idleService struct{}

func (idleService) Snapshot() []weighing.ScaleStatus {
	return []weighing.ScaleStatus{{ScaleID: 1, State: models.StateIdle}}
}
func (idleService) Status(int) (weighing.ScaleStatus, error) { return weighing.ScaleStatus{}, nil }
func (idleService) History(int) ([]models.WeighingSession, error) {
	return nil, nil
}
func (idleService) OpenSession(context.Context, int) (models.WeighingSession, error) {
	return models.WeighingSession{}, nil
}
func (idleService) Capture(context.Context, int) (models.WeighingSession, error) {
	return models.WeighingSession{}, models.ErrNoActiveSession
}
func (idleService) Cancel(context.Context, int, string) (models.WeighingSession, error) {
	return models.WeighingSession{}, models.ErrNoActiveSession
}
func (idleService) TriggerPlateCapture(context.Context, int) (weighing.PlateResult, error) {
	return weighing.PlateResult{}, models.ErrNoActiveSession
}
func (idleService) Submit(context.Context, weighing.SubmitRequest) (weighing.SubmitResult, error) {
	return weighing.SubmitResult{}, models.ErrNoActiveSession
}

func TestRoutes(t *testing.T) {
	logger := zaptest.NewLogger(t)
	hub := broadcast.New(4, logger)
	defer hub.Close()

	engine := New(Handlers{
		Weighing: handlers.NewWeighingHandler(idleService{}, nil, logger),
		Stream:   handlers.NewStreamHandler(hub, logger),
	}, logger)

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/api/scales", http.StatusOK},
		{http.MethodPost, "/api/scales/1/capture", http.StatusNotFound},
		{http.MethodPost, "/api/external/scale", http.StatusNotFound},
		{http.MethodGet, "/api/unknown", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, rec.Code, tc.want)
		}
	}
}
