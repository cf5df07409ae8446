// Package source produces the raw reading stream of each scale: a serial
// indicator, a remote sender posting over HTTP, or a simulated feed.
package source

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
)

const defaultBuffer = 16

// ErrUnparsable marks an indicator line that carries no weight.
var ErrUnparsable = errors.New("source: line carries no weight")

// Source produces the readings of one scale. The channel closes when ctx ends.
type Source interface {
	ScaleID() int
	Readings(ctx context.Context) (<-chan models.ScaleReading, error)
}

// ParseWeight extracts the weight from one indicator line such as
// "ST,GS,+  12345 kg", keeping digits, the decimal point and the sign.
func ParseWeight(line string) (float64, error) {
	clean := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, line)
	if clean == "" {
		return 0, ErrUnparsable
	}
	weight, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, ErrUnparsable
	}
	return weight, nil
}

// emit sends r unless ctx ends first.
func emit(ctx context.Context, ch chan<- models.ScaleReading, r models.ScaleReading) bool {
	select {
	case ch <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
