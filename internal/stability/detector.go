// Package stability decides when a scale's raw reading stream has settled
// on a weight that can be captured.
package stability

import (
	"math"
	"time"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
)

// maxWindowSamples bounds the window when an indicator floods identical timestamps.
const maxWindowSamples = 512

// Config holds the detection thresholds.
type Config struct {
	// Window is the trailing time span of readings considered together.
	Window time.Duration
	// MinSamples is the minimum length of the settled run before it can be stable.
	MinSamples int
	// ThresholdKg is the largest max-min spread of a settled run (inclusive).
	ThresholdKg float64
	// ZeroBandKg is the band around zero treated as an empty deck.
	ZeroBandKg float64
}

// DefaultConfig returns the stock weighbridge thresholds.
func DefaultConfig() Config {
	return Config{
		Window:      1500 * time.Millisecond,
		MinSamples:  2,
		ThresholdKg: 5,
		ZeroBandKg:  20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.MinSamples <= 0 {
		c.MinSamples = def.MinSamples
	}
	if c.ThresholdKg <= 0 {
		c.ThresholdKg = def.ThresholdKg
	}
	if c.ZeroBandKg <= 0 {
		c.ZeroBandKg = def.ZeroBandKg
	}
	return c
}

// Signal is the detector's verdict for one reading.
type Signal struct {
	// Stable is set when the settled run holds at least MinSamples readings
	// and the scale is connected.
	Stable bool
	// WeightKg is the weight of the reading that produced the signal.
	WeightKg float64
	// SpreadKg is the max-min spread of the settled run.
	SpreadKg float64
	// Settled is the length of the settled run: the newest readings of the
	// window whose spread stays within ThresholdKg.
	Settled int
	// Occupied is set when the reading is outside the zero band.
	Occupied bool
	// Departed is set when the deck returned to zero after carrying a load.
	Departed bool
}

// Detector tracks the recent history of one scale. It is not safe for
// concurrent use; each scale pipeline owns its own detector.
type Detector struct {
	cfg       Config
	window    []models.ScaleReading
	connected bool
	loaded    bool
}

// New builds a detector; zero-valued fields in cfg fall back to DefaultConfig.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// IsNearZero reports whether weight falls inside the zero band.
func (d *Detector) IsNearZero(weightKg float64) bool {
	return math.Abs(weightKg) <= d.cfg.ZeroBandKg
}

// Reset discards all history so the next reading starts a fresh cycle.
func (d *Detector) Reset() {
	d.window = d.window[:0]
	d.loaded = false
}

// Observe folds one reading into the window and returns the verdict.
func (d *Detector) Observe(r models.ScaleReading) Signal {
	if !r.Connected {
		d.connected = false
		return Signal{WeightKg: r.WeightKg}
	}
	if !d.connected {
		// reconnect: samples from before the gap say nothing about now
		d.window = d.window[:0]
		d.connected = true
	}

	if d.IsNearZero(r.WeightKg) {
		departed := d.loaded
		d.Reset()
		return Signal{WeightKg: r.WeightKg, Departed: departed}
	}

	d.loaded = true
	d.window = append(d.window, r)
	d.trim(r.Timestamp)

	settled, spread := d.settledRun()
	return Signal{
		Stable:   settled >= d.cfg.MinSamples,
		WeightKg: r.WeightKg,
		SpreadKg: spread,
		Settled:  settled,
		Occupied: true,
	}
}

func (d *Detector) trim(newest time.Time) {
	drop := 0
	for drop < len(d.window)-1 && newest.Sub(d.window[drop].Timestamp) > d.cfg.Window {
		drop++
	}
	if over := len(d.window) - drop - maxWindowSamples; over > 0 {
		drop += over
	}
	if drop > 0 {
		d.window = append(d.window[:0], d.window[drop:]...)
	}
}

// settledRun walks the window back from the newest reading while the
// max-min spread stays within the threshold. Readings still swinging before
// the truck came to rest fall outside the run.
func (d *Detector) settledRun() (int, float64) {
	n := len(d.window)
	if n == 0 {
		return 0, 0
	}
	lo, hi := d.window[n-1].WeightKg, d.window[n-1].WeightKg
	settled := 1
	for i := n - 2; i >= 0; i-- {
		w := d.window[i].WeightKg
		nlo, nhi := math.Min(lo, w), math.Max(hi, w)
		if nhi-nlo > d.cfg.ThresholdKg {
			break
		}
		lo, hi = nlo, nhi
		settled++
	}
	return settled, hi - lo
}
