package heartbeat

import (
	"math"
	"testing"
)

func TestRSSIFilter_FirstMeasurementInitializes(t *testing.T) {
	f := NewRSSIFilter(15, 0.08)
	if _, ok := f.Last(); ok {
		t.Fatal("Last() ok before any measurement")
	}
	if got := f.Filter(-60); got != -60 {
		t.Errorf("first Filter(-60) = %v, want -60", got)
	}
	if x, ok := f.Last(); !ok || x != -60 {
		t.Errorf("Last() = %v, %v", x, ok)
	}
}

func TestRSSIFilter_ConvergesTowardMeasurements(t *testing.T) {
	f := NewRSSIFilter(15, 0.08)
	f.Filter(-60)

	// A step to -80 should be approached smoothly, never overshot.
	prev := -60.0
	for i := 0; i < 50; i++ {
		x := f.Filter(-80)
		if x > prev {
			t.Fatalf("estimate moved away from measurement: %v -> %v", prev, x)
		}
		if x < -80 {
			t.Fatalf("estimate overshot measurement: %v", x)
		}
		prev = x
	}
	if math.Abs(prev-(-80)) > 1 {
		t.Errorf("estimate after 50 steps = %v, want within 1 of -80", prev)
	}
}

func TestRSSIFilter_SingleStepGain(t *testing.T) {
	// After init at z0, cov=Q, so K = Q/(Q+Q) = 0.5: the next estimate is
	// exactly halfway between state and measurement.
	f := NewRSSIFilter(15, 0.08)
	f.Filter(-60)
	if got := f.Filter(-80); got != -70 {
		t.Errorf("second Filter(-80) = %v, want -70", got)
	}
}

func TestRSSIFilter_Reset(t *testing.T) {
	f := NewRSSIFilter(15, 0.08)
	f.Filter(-60)
	f.Filter(-62)

	if got := f.Reset(-100); got != -100 {
		t.Errorf("Reset(-100) = %v", got)
	}
	if x, ok := f.Last(); !ok || x != -100 {
		t.Errorf("Last() after reset = %v, %v", x, ok)
	}
	// After reset the gain is back to 0.5.
	if got := f.Filter(-60); got != -80 {
		t.Errorf("Filter(-60) after reset = %v, want -80", got)
	}
}

func TestNewRSSIFilter_Defaults(t *testing.T) {
	f := NewRSSIFilter(0, 0)
	if f.q != DefaultKalmanQ || f.r != DefaultKalmanR {
		t.Errorf("defaults not applied: q=%v r=%v", f.q, f.r)
	}
}
