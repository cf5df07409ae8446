package anpr

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mamadbah2/stoneweigh/internal/config"
)

// Response statuses reported by the recognition engine.
const (
	StatusDone     = "done"
	StatusAccepted = "accepted"
)

// Client exposes the recognition engine operations used by the application.
type Client interface {
	Recognize(ctx context.Context, req RecognizeRequest) (*RecognizeResponse, error)
}

// APIClient is a resty-backed implementation of Client.
type APIClient struct {
	httpClient *resty.Client
}

// NewClient builds an engine client using the provided configuration values.
func NewClient(cfg config.ANPRConfig) *APIClient {
	restyClient := resty.New()
	restyClient.
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout + time.Second)

	if cfg.APIKey != "" {
		restyClient.SetHeader("Authorization", fmt.Sprintf("Bearer %s", cfg.APIKey))
	}

	return &APIClient{httpClient: restyClient}
}

// RecognizeRequest asks the engine to read the plate in front of a scale's camera.
type RecognizeRequest struct {
	RequestID   string `json:"request_id"`
	SessionID   string `json:"session_id"`
	ScaleID     int    `json:"scale_id"`
	CameraURL   string `json:"camera_url,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// RecognizeResponse mirrors the engine reply. A deferred request answers 202
// with status "accepted" and posts its result to the callback URL later.
type RecognizeResponse struct {
	RequestID  string  `json:"request_id"`
	Status     string  `json:"status"`
	Plate      string  `json:"plate"`
	Confidence float64 `json:"confidence"`
	Snapshot   string  `json:"snapshot,omitempty"`

	HTTPStatus int `json:"-"`
}

// apiError represents an engine error payload.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *APIClient) Recognize(ctx context.Context, req RecognizeRequest) (*RecognizeResponse, error) {
	result := new(RecognizeResponse)
	apiErr := new(apiError)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(result).
		SetError(apiErr).
		Post("/v1/recognitions")
	if err != nil {
		return nil, fmt.Errorf("send anpr request: %w", err)
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		message := apiErr.Error.Message
		if message == "" {
			message = resp.Status()
		}
		return nil, fmt.Errorf("anpr api error: status=%d, code=%s, message=%s", resp.StatusCode(), apiErr.Error.Code, message)
	}

	result.HTTPStatus = resp.StatusCode()
	return result, nil
}
