package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/roomsense/pkg/models"
)

// floor is the RSSI value treated as "out of range". A heartbeat whose
// maximum value is at or below silenceCutoff carries no signals.
const (
	floor         = -100.0
	silenceCutoff = -99.0
)

// tracker owns the cadence loop and filter state for one device.
// enqueue may be called from any goroutine; tick runs only on the
// tracker's own loop (or directly from tests).
type tracker struct {
	device models.Device
	cfg    Config

	mu         sync.Mutex
	pending    []models.RawScan
	filters    map[string]*RSSIFilter
	values     map[string]float64
	lastSignal map[string]time.Time
	lastChange map[string]time.Time
	prev       map[string]float64

	cancel context.CancelFunc
	done   chan struct{}
}

func newTracker(device models.Device, cfg Config) *tracker {
	return &tracker{
		device:     device,
		cfg:        cfg,
		filters:    make(map[string]*RSSIFilter),
		values:     make(map[string]float64),
		lastSignal: make(map[string]time.Time),
		lastChange: make(map[string]time.Time),
		done:       make(chan struct{}),
	}
}

// enqueue buffers a raw scan for the next cadence tick.
func (t *tracker) enqueue(scan models.RawScan) {
	t.mu.Lock()
	t.pending = append(t.pending, scan)
	t.mu.Unlock()
}

// reset drops all filter state so a fresh learning session starts from a
// clean baseline. The cadence keeps running.
func (t *tracker) reset() {
	t.mu.Lock()
	t.pending = nil
	t.filters = make(map[string]*RSSIFilter)
	t.values = make(map[string]float64)
	t.lastSignal = make(map[string]time.Time)
	t.lastChange = make(map[string]time.Time)
	t.prev = nil
	t.mu.Unlock()
}

// run drives the cadence loop until ctx is cancelled, publishing each
// non-nil heartbeat.
func (t *tracker) run(ctx context.Context, publish func(models.Heartbeat)) {
	defer close(t.done)
	ticker := time.NewTicker(t.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if hb := t.tick(now); hb != nil {
				publish(*hb)
			}
		}
	}
}

// stop cancels the cadence loop and waits for it to exit.
func (t *tracker) stop() {
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
}

// tick drains the pending buffer, applies silence penalties, and returns a
// heartbeat when the derived vector changed since the last one (nil otherwise).
func (t *tracker) tick(now time.Time) *models.Heartbeat {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool)
	for _, scan := range t.pending {
		f, ok := t.filters[scan.ScannerUUID]
		if !ok {
			f = NewRSSIFilter(t.cfg.KalmanQ, t.cfg.KalmanR)
			t.filters[scan.ScannerUUID] = f
		}
		t.values[scan.ScannerUUID] = f.Filter(scan.RSSI)
		t.lastSignal[scan.ScannerUUID] = scan.When
		t.lastChange[scan.ScannerUUID] = scan.When
		seen[scan.ScannerUUID] = true
	}
	t.pending = nil

	// Penalty ladder for scanners silent this tick. First match wins.
	for uuid, f := range t.filters {
		if seen[uuid] {
			continue
		}
		switch {
		case now.Sub(t.lastSignal[uuid]) >= t.cfg.TurnOffAfter:
			t.values[uuid] = f.Reset(floor)
			t.lastSignal[uuid] = now
			t.lastChange[uuid] = now
		case now.Sub(t.lastChange[uuid]) >= t.cfg.LongDelayAfter:
			t.values[uuid] = f.Filter(floor)
			t.lastChange[uuid] = now
		case t.cfg.SilentPenalty > 0:
			v := t.values[uuid] - t.cfg.SilentPenalty
			if v < floor {
				v = floor
			}
			t.values[uuid] = f.Reset(v)
		}
	}

	if len(t.values) == 0 || equalVectors(t.values, t.prev) {
		return nil
	}

	snapshot := make(map[string]float64, len(t.values))
	maxVal := floor
	for uuid, v := range t.values {
		snapshot[uuid] = v
		if v > maxVal {
			maxVal = v
		}
	}
	t.prev = snapshot

	hb := &models.Heartbeat{DeviceID: t.device.ID, Timestamp: now}
	if maxVal > silenceCutoff {
		hb.Signals = snapshot
	}
	return hb
}

func equalVectors(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
