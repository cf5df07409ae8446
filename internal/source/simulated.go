package source

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
)

// SimulatedSource is the demo feed: the deck alternates between empty and
// carrying a truck of roughly LoadKg with a little sensor noise.
type SimulatedSource struct {
	scaleID  int
	Interval time.Duration
	Cycle    time.Duration
	LoadKg   float64
	NoiseKg  float64
	now      func() time.Time
}

// NewSimulatedSource creates a feed reporting every 500ms with 20s phases.
func NewSimulatedSource(scaleID int) *SimulatedSource {
	return &SimulatedSource{
		scaleID:  scaleID,
		Interval: 500 * time.Millisecond,
		Cycle:    20 * time.Second,
		LoadKg:   24500,
		NoiseKg:  2,
		now:      time.Now,
	}
}

// ScaleID implements Source.
func (s *SimulatedSource) ScaleID() int {
	return s.scaleID
}

// Readings implements Source.
func (s *SimulatedSource) Readings(ctx context.Context) (<-chan models.ScaleReading, error) {
	ch := make(chan models.ScaleReading, defaultBuffer)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()

		start := s.now()
		phase := int64(-1)
		load := s.LoadKg
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			now := s.now()
			current := int64(now.Sub(start) / s.Cycle)
			if current != phase {
				phase = current
				// every truck weighs a little differently
				load = s.LoadKg + float64(rand.IntN(2001)-1000)
			}

			weight := 0.0
			if phase%2 == 1 {
				weight = load + (rand.Float64()*2-1)*s.NoiseKg
			}
			if !emit(ctx, ch, models.ScaleReading{ScaleID: s.scaleID, WeightKg: weight, Timestamp: now, Connected: true}) {
				return
			}
		}
	}()
	return ch, nil
}
