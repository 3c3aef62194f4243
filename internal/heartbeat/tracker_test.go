package heartbeat

import (
	"math"
	"testing"
	"time"

	"github.com/HerbHall/roomsense/pkg/models"
)

func testConfig() Config {
	return DefaultConfig()
}

func scan(scanner string, rssi float64, when time.Time) models.RawScan {
	return models.RawScan{ScannerUUID: scanner, DeviceKey: "cf4ffda76286", RSSI: rssi, When: when}
}

// Single scanner: one scan produces one heartbeat, then sixty seconds of
// silence drives the value to the floor and empties the signals field.
func TestTracker_SingleScannerLifecycle(t *testing.T) {
	tr := newTracker(models.Device{ID: 1, UUID: "cf4ffda76286"}, testConfig())
	start := time.Now()

	tr.enqueue(scan("office", -60, start))

	hb := tr.tick(start.Add(500 * time.Millisecond))
	if hb == nil {
		t.Fatal("no heartbeat after first scan")
	}
	if got := hb.Signals["office"]; math.Abs(got-(-60)) > 1 {
		t.Errorf("office = %v, want -60 within 1", got)
	}

	// Tick the cadence through 60.5s of silence.
	var last *models.Heartbeat
	for elapsed := time.Second; elapsed <= 61*time.Second; elapsed += 500 * time.Millisecond {
		if hb := tr.tick(start.Add(elapsed)); hb != nil {
			last = hb
		}
	}
	if last == nil {
		t.Fatal("silence produced no heartbeats")
	}
	if last.Signals != nil {
		t.Errorf("signals after turn-off = %v, want none", last.Signals)
	}

	// Turned-off state is stable: no further heartbeats.
	if hb := tr.tick(start.Add(62 * time.Second)); hb != nil {
		t.Errorf("heartbeat after stable turn-off: %+v", hb)
	}
}

// Two scanners: the silent one decays toward the floor while the active one
// keeps its value.
func TestTracker_SilentScannerPenalty(t *testing.T) {
	tr := newTracker(models.Device{ID: 1, UUID: "cf4ffda76286"}, testConfig())
	start := time.Now()

	tr.enqueue(scan("kitchen", -70, start))
	var last *models.Heartbeat
	for elapsed := 500 * time.Millisecond; elapsed <= 30500*time.Millisecond; elapsed += 500 * time.Millisecond {
		// Office keeps reporting for the first five seconds.
		if elapsed <= 5*time.Second {
			tr.enqueue(scan("office", -50, start.Add(elapsed)))
		}
		if hb := tr.tick(start.Add(elapsed)); hb != nil {
			last = hb
		}
	}

	if last == nil {
		t.Fatal("no heartbeat emitted")
	}
	if got := last.Signals["kitchen"]; got > -80 {
		t.Errorf("kitchen = %v, want decayed well below -70", got)
	}
	if got := last.Signals["office"]; math.Abs(got-(-50)) > 1 {
		t.Errorf("office = %v, want -50 within 1", got)
	}
}

func TestTracker_NoHeartbeatWhenUnchanged(t *testing.T) {
	tr := newTracker(models.Device{ID: 1, UUID: "cf4ffda76286"}, testConfig())
	start := time.Now()

	// Empty tracker ticks emit nothing.
	if hb := tr.tick(start); hb != nil {
		t.Errorf("empty tick produced %+v", hb)
	}

	tr.enqueue(scan("office", -60, start))
	if hb := tr.tick(start.Add(500 * time.Millisecond)); hb == nil {
		t.Fatal("expected heartbeat after first scan")
	}

	// Same value again: the vector converges and stops changing quickly.
	var emitted int
	for i := 2; i < 40; i++ {
		when := start.Add(time.Duration(i) * 500 * time.Millisecond)
		tr.enqueue(scan("office", -60, when))
		if hb := tr.tick(when); hb != nil {
			emitted++
		}
	}
	if emitted != 0 {
		t.Errorf("constant input emitted %d heartbeats, want 0", emitted)
	}
}

func TestTracker_ResetClearsState(t *testing.T) {
	tr := newTracker(models.Device{ID: 1, UUID: "cf4ffda76286"}, testConfig())
	start := time.Now()

	tr.enqueue(scan("office", -60, start))
	if hb := tr.tick(start.Add(500 * time.Millisecond)); hb == nil {
		t.Fatal("expected heartbeat")
	}

	tr.reset()

	// After reset the same measurement is a fresh initialization, and the
	// first tick emits again because the previous vector was cleared.
	tr.enqueue(scan("office", -42, start.Add(time.Second)))
	hb := tr.tick(start.Add(1500 * time.Millisecond))
	if hb == nil {
		t.Fatal("no heartbeat after reset")
	}
	if got := hb.Signals["office"]; got != -42 {
		t.Errorf("office after reset = %v, want -42 (filter must restart)", got)
	}
}
