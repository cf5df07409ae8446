package stability

import (
	"testing"
	"time"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func reading(weight float64, offset time.Duration, connected bool) models.ScaleReading {
	return models.ScaleReading{ScaleID: 1, WeightKg: weight, Timestamp: t0.Add(offset), Connected: connected}
}

func TestStableAfterTruckSettles(t *testing.T) {
	d := New(DefaultConfig())

	steps := []struct {
		r          models.ScaleReading
		wantStable bool
	}{
		{reading(0, 0, true), false},
		{reading(24490, 1*time.Second, true), false},
		{reading(24505, 2*time.Second, true), false},
		{reading(24500, 3*time.Second, true), true},
	}

	var last Signal
	for i, step := range steps {
		last = d.Observe(step.r)
		if last.Stable != step.wantStable {
			t.Fatalf("step %d: stable = %v, want %v (spread %v)", i, last.Stable, step.wantStable, last.SpreadKg)
		}
	}
	if last.WeightKg != 24500 {
		t.Errorf("stable weight = %v, want 24500", last.WeightKg)
	}
}

func TestSettledRunIgnoresOlderReadingsInWindow(t *testing.T) {
	d := New(DefaultConfig())

	// a fast indicator keeps the climbing readings inside the window
	weights := []float64{0, 24490, 24505, 24500}
	var last Signal
	for i, w := range weights {
		last = d.Observe(reading(w, time.Duration(i)*200*time.Millisecond, true))
		if wantStable := i == len(weights)-1; last.Stable != wantStable {
			t.Fatalf("reading %d (%v kg): stable = %v, want %v (settled %d, spread %v)",
				i, w, last.Stable, wantStable, last.Settled, last.SpreadKg)
		}
	}
	if last.WeightKg != 24500 || last.Settled != 2 || last.SpreadKg != 5 {
		t.Errorf("signal = %+v, want 24500 kg settled over 2 readings with spread 5", last)
	}

	// one more reading inside the band extends the run
	last = d.Observe(reading(24502, 800*time.Millisecond, true))
	if !last.Stable || last.Settled != 3 {
		t.Errorf("extended run = %+v", last)
	}
}

func TestNotStableWhileSpreadExceedsThreshold(t *testing.T) {
	d := New(DefaultConfig())
	weights := []float64{24000, 24100, 24250, 24400}
	for i, w := range weights {
		sig := d.Observe(reading(w, time.Duration(i)*500*time.Millisecond, true))
		if sig.Stable {
			t.Fatalf("reading %d (%v kg) reported stable while still climbing", i, w)
		}
	}
}

func TestNeverStableWhileDisconnected(t *testing.T) {
	d := New(DefaultConfig())
	d.Observe(reading(24500, 0, true))
	sig := d.Observe(reading(24500, 500*time.Millisecond, false))
	if sig.Stable {
		t.Fatal("disconnected reading reported stable")
	}
}

func TestReconnectResetsWindow(t *testing.T) {
	d := New(DefaultConfig())
	d.Observe(reading(24500, 0, true))
	d.Observe(reading(24500, 500*time.Millisecond, true))
	d.Observe(reading(0, 1*time.Second, false))

	sig := d.Observe(reading(24500, 1200*time.Millisecond, true))
	if sig.Stable {
		t.Fatal("first reading after reconnect reported stable from pre-gap samples")
	}
	sig = d.Observe(reading(24502, 1700*time.Millisecond, true))
	if !sig.Stable {
		t.Fatalf("expected stable after two settled readings post-reconnect, spread %v", sig.SpreadKg)
	}
}

func TestDepartureResetsCycle(t *testing.T) {
	d := New(DefaultConfig())
	d.Observe(reading(24500, 0, true))
	d.Observe(reading(24500, 500*time.Millisecond, true))

	sig := d.Observe(reading(3, 1*time.Second, true))
	if !sig.Departed {
		t.Fatal("expected departure when deck returns to zero band")
	}
	if sig.Stable || sig.Occupied {
		t.Fatalf("departure signal should be neither stable nor occupied: %+v", sig)
	}

	sig = d.Observe(reading(0, 1500*time.Millisecond, true))
	if sig.Departed {
		t.Error("departure reported twice for the same vehicle")
	}

	sig = d.Observe(reading(18000, 2*time.Second, true))
	if sig.Stable {
		t.Error("next vehicle inherited the previous stability window")
	}
}

func TestWindowTrimsOldSamples(t *testing.T) {
	d := New(Config{Window: time.Second, MinSamples: 2, ThresholdKg: 5, ZeroBandKg: 20})
	d.Observe(reading(20000, 0, true))
	d.Observe(reading(24500, 2*time.Second, true))
	sig := d.Observe(reading(24501, 2500*time.Millisecond, true))
	if !sig.Stable {
		t.Fatalf("old sample outside the window still affects spread: %v", sig.SpreadKg)
	}
}
