package anpr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mamadbah2/stoneweigh/internal/config"
)

func TestRecognizeReturnsPlate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/recognitions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization header = %q", got)
		}
		var req RecognizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(RecognizeResponse{RequestID: req.RequestID, Status: StatusDone, Plate: "B 8187 XY"})
	}))
	defer srv.Close()

	client := NewClient(config.ANPRConfig{BaseURL: srv.URL, APIKey: "secret", Timeout: time.Second})
	resp, err := client.Recognize(context.Background(), RecognizeRequest{RequestID: "r-1", ScaleID: 1})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if resp.Plate != "B 8187 XY" || resp.HTTPStatus != http.StatusOK {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestRecognizeAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"request_id":"r-1","status":"accepted"}`))
	}))
	defer srv.Close()

	client := NewClient(config.ANPRConfig{BaseURL: srv.URL, Timeout: time.Second})
	resp, err := client.Recognize(context.Background(), RecognizeRequest{RequestID: "r-1"})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if resp.HTTPStatus != http.StatusAccepted || resp.Status != StatusAccepted {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestRecognizeSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"camera offline","code":"CAMERA"}}`))
	}))
	defer srv.Close()

	client := NewClient(config.ANPRConfig{BaseURL: srv.URL, Timeout: time.Second})
	_, err := client.Recognize(context.Background(), RecognizeRequest{RequestID: "r-1"})
	if err == nil || !strings.Contains(err.Error(), "camera offline") {
		t.Fatalf("expected api error, got %v", err)
	}
}
