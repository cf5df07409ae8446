package source

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync/atomic"
	"time"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
)

// ErrNotRunning rejects pushes to a remote scale nobody consumes.
var ErrNotRunning = errors.New("source: remote scale pipeline not running")

// RemoteSource receives readings posted by a sender next to the scale. A
// scale that stays silent for StaleAfter is reported disconnected.
type RemoteSource struct {
	scaleID    int
	token      string
	inbox      chan models.ScaleReading
	active     atomic.Bool
	StaleAfter time.Duration
	now        func() time.Time
}

// NewRemoteSource creates a remote scale authenticated by token.
func NewRemoteSource(scaleID int, token string) *RemoteSource {
	return &RemoteSource{
		scaleID:    scaleID,
		token:      token,
		inbox:      make(chan models.ScaleReading, defaultBuffer),
		StaleAfter: 10 * time.Second,
		now:        time.Now,
	}
}

// ScaleID implements Source.
func (s *RemoteSource) ScaleID() int {
	return s.scaleID
}

// Authenticate reports whether token belongs to this scale.
func (s *RemoteSource) Authenticate(token string) bool {
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

// Push queues a reading for the scale pipeline.
func (s *RemoteSource) Push(ctx context.Context, weightKg float64) error {
	if !s.active.Load() {
		return ErrNotRunning
	}
	r := models.ScaleReading{ScaleID: s.scaleID, WeightKg: weightKg, Timestamp: s.now(), Connected: true}
	select {
	case s.inbox <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Readings implements Source. One consumer at a time; a new one may start once
// the previous channel has closed.
func (s *RemoteSource) Readings(ctx context.Context) (<-chan models.ScaleReading, error) {
	if !s.active.CompareAndSwap(false, true) {
		return nil, errors.New("source: remote scale already consumed")
	}
	s.drain()

	ch := make(chan models.ScaleReading, defaultBuffer)
	go func() {
		defer close(ch)
		defer s.active.Store(false)
		stale := time.NewTimer(s.StaleAfter)
		defer stale.Stop()
		connected := false
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-s.inbox:
				connected = true
				stale.Reset(s.StaleAfter)
				if !emit(ctx, ch, r) {
					return
				}
			case <-stale.C:
				if connected {
					connected = false
					if !emit(ctx, ch, models.Disconnected(s.scaleID, s.now())) {
						return
					}
				}
				stale.Reset(s.StaleAfter)
			}
		}
	}()
	return ch, nil
}

// drain drops readings queued for a consumer that has since stopped.
func (s *RemoteSource) drain() {
	for {
		select {
		case <-s.inbox:
		default:
			return
		}
	}
}

// Remotes indexes remote scales by token.
type Remotes []*RemoteSource

// Find returns the scale the token belongs to.
func (rs Remotes) Find(token string) (*RemoteSource, bool) {
	for _, s := range rs {
		if s.Authenticate(token) {
			return s, true
		}
	}
	return nil, false
}
