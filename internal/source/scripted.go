package source

import (
	"context"
	"time"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
)

// ScriptedSource replays a fixed sequence of readings and then closes.
type ScriptedSource struct {
	scaleID  int
	readings []models.ScaleReading
	interval time.Duration
}

// NewScriptedSource replays readings with interval between them. Readings
// are re-addressed to scaleID.
func NewScriptedSource(scaleID int, interval time.Duration, readings ...models.ScaleReading) *ScriptedSource {
	out := make([]models.ScaleReading, len(readings))
	for i, r := range readings {
		r.ScaleID = scaleID
		out[i] = r
	}
	return &ScriptedSource{scaleID: scaleID, readings: out, interval: interval}
}

// ScaleID implements Source.
func (s *ScriptedSource) ScaleID() int {
	return s.scaleID
}

// Readings implements Source.
func (s *ScriptedSource) Readings(ctx context.Context) (<-chan models.ScaleReading, error) {
	ch := make(chan models.ScaleReading)
	go func() {
		defer close(ch)
		for i, r := range s.readings {
			if i > 0 && s.interval > 0 && !sleep(ctx, s.interval) {
				return
			}
			if !emit(ctx, ch, r) {
				return
			}
		}
	}()
	return ch, nil
}
