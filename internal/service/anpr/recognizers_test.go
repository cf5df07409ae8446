package anpr

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
	anprclient "github.com/mamadbah2/stoneweigh/pkg/clients/anpr"
)

type stubClient struct {
	resp *anprclient.RecognizeResponse
	err  error
	last anprclient.RecognizeRequest
}

func (s *stubClient) Recognize(_ context.Context, req anprclient.RecognizeRequest) (*anprclient.RecognizeResponse, error) {
	s.last = req
	return s.resp, s.err
}

func TestEngineRecognizerMapsResponses(t *testing.T) {
	req := models.ANPRRequest{RequestID: "r-1", SessionID: "s-1", ScaleID: 2}

	t.Run("immediate plate", func(t *testing.T) {
		client := &stubClient{resp: &anprclient.RecognizeResponse{Status: anprclient.StatusDone, Plate: "B 9190 IC", HTTPStatus: http.StatusOK}}
		r := NewEngineRecognizer(client, map[int]string{2: "rtsp://cam-2"}, "http://coordinator/api/anpr/callback", nil)

		rec, err := r.Recognize(context.Background(), req)
		if err != nil {
			t.Fatalf("Recognize failed: %v", err)
		}
		if rec.Plate != "B 9190 IC" || rec.Simulated {
			t.Errorf("unexpected recognition %+v", rec)
		}
		if client.last.CameraURL != "rtsp://cam-2" || client.last.CallbackURL == "" {
			t.Errorf("camera or callback not forwarded: %+v", client.last)
		}
	})

	t.Run("deferred", func(t *testing.T) {
		client := &stubClient{resp: &anprclient.RecognizeResponse{Status: anprclient.StatusAccepted, HTTPStatus: http.StatusAccepted}}
		r := NewEngineRecognizer(client, nil, "", nil)
		if _, err := r.Recognize(context.Background(), req); !errors.Is(err, ErrResultDeferred) {
			t.Fatalf("expected ErrResultDeferred, got %v", err)
		}
	})

	t.Run("transport error", func(t *testing.T) {
		client := &stubClient{err: errors.New("dial tcp: refused")}
		r := NewEngineRecognizer(client, nil, "", nil)
		if _, err := r.Recognize(context.Background(), req); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestNormalizePlate(t *testing.T) {
	tests := map[string]string{
		" b 8187 ":    "B 8187",
		"k  8324\tqd": "K 8324 QD",
		"":            "",
		"   ":         "",
		"B 1234 DEMO": "B 1234 DEMO",
	}
	for in, want := range tests {
		if got := NormalizePlate(in); got != want {
			t.Errorf("NormalizePlate(%q) = %q, want %q", in, got, want)
		}
	}
}
