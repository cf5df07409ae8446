package anpr

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"

	"go.uber.org/zap"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
	anprclient "github.com/mamadbah2/stoneweigh/pkg/clients/anpr"
)

// EngineRecognizer forwards requests to the external recognition engine.
type EngineRecognizer struct {
	client      anprclient.Client
	cameras     map[int]string
	callbackURL string
	logger      *zap.Logger
}

// NewEngineRecognizer builds a recognizer backed by the engine HTTP API.
// cameras maps a scale id to the camera source the engine should read.
func NewEngineRecognizer(client anprclient.Client, cameras map[int]string, callbackURL string, logger *zap.Logger) *EngineRecognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EngineRecognizer{client: client, cameras: cameras, callbackURL: callbackURL, logger: logger}
}

// Recognize submits the request; an accepted-for-later response defers to Resolve.
func (r *EngineRecognizer) Recognize(ctx context.Context, req models.ANPRRequest) (Recognition, error) {
	resp, err := r.client.Recognize(ctx, anprclient.RecognizeRequest{
		RequestID:   req.RequestID,
		SessionID:   req.SessionID,
		ScaleID:     req.ScaleID,
		CameraURL:   r.cameras[req.ScaleID],
		CallbackURL: r.callbackURL,
	})
	if err != nil {
		return Recognition{}, fmt.Errorf("recognize plate: %w", err)
	}

	if resp.HTTPStatus == http.StatusAccepted || resp.Status == anprclient.StatusAccepted {
		r.logger.Debug("anpr result deferred to callback", zap.String("request_id", req.RequestID))
		return Recognition{}, ErrResultDeferred
	}

	return Recognition{Plate: resp.Plate}, nil
}

var (
	simulatedPrefixes = []string{"B", "D", "F", "A", "H"}
	simulatedSuffixes = []string{"UA", "XY", "BC", "OM", "PR"}
)

// SimulatedRecognizer produces plausible plates for demo installations without a camera.
type SimulatedRecognizer struct{}

// Recognize returns a random plate flagged as simulated.
func (SimulatedRecognizer) Recognize(ctx context.Context, req models.ANPRRequest) (Recognition, error) {
	if err := ctx.Err(); err != nil {
		return Recognition{}, err
	}
	plate := fmt.Sprintf("%s %04d %s",
		simulatedPrefixes[rand.IntN(len(simulatedPrefixes))],
		rand.IntN(8999)+1000,
		simulatedSuffixes[rand.IntN(len(simulatedSuffixes))])
	return Recognition{Plate: plate, Simulated: true}, nil
}
