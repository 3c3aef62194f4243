// Package heartbeat turns raw BLE scans into per-device heartbeat vectors.
// One tracker per device runs a fixed-cadence loop that smooths RSSI through
// a Kalman filter per scanner and penalizes scanners that fall silent.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/roomsense/internal/catalog"
	"github.com/HerbHall/roomsense/pkg/models"
	"github.com/HerbHall/roomsense/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
)

var (
	scansAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomsense_heartbeat_scans_accepted_total",
		Help: "Raw scans accepted by a device tracker.",
	})
	scansUnmatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomsense_heartbeat_scans_unmatched_total",
		Help: "Raw scans dropped because no tracker matched the device key.",
	})
	beatsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomsense_heartbeat_beats_total",
		Help: "Heartbeats published on the bus.",
	})
)

func init() {
	prometheus.MustRegister(scansAccepted, scansUnmatched, beatsEmitted)
}

// Module implements the heartbeat engine plugin.
type Module struct {
	logger *zap.Logger
	bus    plugin.EventBus
	repo   catalog.Repository
	cfg    Config

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu        sync.Mutex
	trackers  map[string]*tracker // keyed by every normalized device key
	byID      map[int64]*tracker
	unmatched map[string]bool // keys with no catalog device; cleared on DeviceAdded
}

// New creates the heartbeat module.
func New() *Module {
	return &Module{
		trackers:  make(map[string]*tracker),
		byID:      make(map[int64]*tracker),
		unmatched: make(map[string]bool),
	}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "heartbeat",
		Version:      "0.1.0",
		Description:  "Per-device heartbeat generation from raw scans",
		Dependencies: []string{"catalog"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("heartbeat config: %w", err)
		}
	}
	m.cfg = m.cfg.withDefaults()

	p, ok := deps.Plugins.Resolve("catalog")
	if !ok {
		return fmt.Errorf("catalog module not available")
	}
	repo, ok := p.(catalog.Repository)
	if !ok {
		return fmt.Errorf("catalog module does not implement the repository contract")
	}
	m.repo = repo

	m.baseCtx, m.baseCancel = context.WithCancel(context.Background())
	m.logger.Info("heartbeat module initialized",
		zap.Duration("period", m.cfg.Period),
		zap.Duration("turn_off_after", m.cfg.TurnOffAfter),
	)
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	m.baseCancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tr := range m.byID {
		tr.stop()
	}
	m.trackers = make(map[string]*tracker)
	m.byID = make(map[int64]*tracker)
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: TopicScan, Handler: m.handleScan},
		{Topic: TopicDeviceAdded, Handler: m.handleDeviceAdded},
		{Topic: TopicDeviceRemoved, Handler: m.handleDeviceRemoved},
		{Topic: TopicRecordingStarted, Handler: m.handleRecordingStarted},
	}
}

func (m *Module) handleScan(ctx context.Context, e plugin.Event) {
	scan, ok := e.Payload.(models.RawScan)
	if !ok {
		return
	}

	m.mu.Lock()
	tr := m.trackers[scan.DeviceKey]
	m.mu.Unlock()
	if tr == nil {
		tr = m.adoptPersisted(ctx, scan.DeviceKey)
	}
	if tr == nil {
		scansUnmatched.Inc()
		return
	}

	tr.enqueue(scan)
	scansAccepted.Inc()

	m.publish(ctx, TopicSignal, SignalEvent{
		DeviceID:    tr.device.ID,
		ScannerUUID: scan.ScannerUUID,
		RSSI:        scan.RSSI,
		When:        scan.When,
	})
}

func (m *Module) handleDeviceAdded(ctx context.Context, e plugin.Event) {
	device, ok := e.Payload.(models.Device)
	if !ok {
		return
	}
	m.startTracker(device)
}

func (m *Module) handleDeviceRemoved(ctx context.Context, e plugin.Event) {
	device, ok := e.Payload.(models.Device)
	if !ok {
		return
	}

	m.mu.Lock()
	tr := m.byID[device.ID]
	if tr != nil {
		m.removeLocked(tr)
	}
	m.mu.Unlock()

	if tr != nil {
		tr.stop()
		m.logger.Info("tracker stopped", zap.Int64("device_id", device.ID))
	}
}

func (m *Module) handleRecordingStarted(ctx context.Context, e plugin.Event) {
	rec, ok := e.Payload.(models.RecordingStarted)
	if !ok {
		return
	}
	m.mu.Lock()
	tr := m.byID[rec.DeviceID]
	m.mu.Unlock()
	if tr != nil {
		tr.reset()
		m.logger.Info("tracker filters reset for recording",
			zap.Int64("device_id", rec.DeviceID))
	}
}

// deviceKeys returns every normalized key a scan payload may carry for the
// device: the uuid, plus the name for use_name_as_id devices.
func deviceKeys(d models.Device) []string {
	var keys []string
	if k := models.NormalizeDeviceKey(d.UUID); k != "" {
		keys = append(keys, k)
	}
	if d.UseNameAsID {
		if k := models.NormalizeDeviceKey(d.Name); k != "" && (len(keys) == 0 || k != keys[0]) {
			keys = append(keys, k)
		}
	}
	return keys
}

// startTracker replaces any tracker for the same device with a fresh one and
// indexes it under every key a scan may match.
func (m *Module) startTracker(device models.Device) {
	keys := deviceKeys(device)

	m.mu.Lock()
	m.unmatched = make(map[string]bool)
	old := m.byID[device.ID]
	if old == nil {
		for _, key := range keys {
			if tr := m.trackers[key]; tr != nil {
				old = tr
				break
			}
		}
	}
	if old != nil {
		m.removeLocked(old)
		m.mu.Unlock()
		old.stop()
		m.mu.Lock()
	}

	tr := newTracker(device, m.cfg)
	runCtx, cancel := context.WithCancel(m.baseCtx)
	tr.cancel = cancel
	for _, key := range keys {
		m.trackers[key] = tr
	}
	m.byID[device.ID] = tr
	m.mu.Unlock()

	go tr.run(runCtx, m.publishBeat)
	m.logger.Info("tracker started",
		zap.Int64("device_id", device.ID),
		zap.Strings("keys", keys),
	)
}

// removeLocked drops the tracker from both indexes. Caller holds m.mu.
func (m *Module) removeLocked(tr *tracker) {
	for _, key := range deviceKeys(tr.device) {
		delete(m.trackers, key)
	}
	delete(m.byID, tr.device.ID)
}

// adoptPersisted starts a tracker for a device that exists in the catalog but
// whose added event this module never saw, e.g. a scan racing the startup
// replay. Keys that resolve to nothing are cached so unknown devices cost one
// lookup, not one per scan.
func (m *Module) adoptPersisted(ctx context.Context, key string) *tracker {
	m.mu.Lock()
	miss := m.unmatched[key]
	m.mu.Unlock()
	if miss {
		return nil
	}

	device, err := m.repo.GetDeviceByIdentifier(ctx, key)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			m.mu.Lock()
			m.unmatched[key] = true
			m.mu.Unlock()
		} else {
			m.logger.Error("device lookup failed",
				zap.String("device_key", key), zap.Error(err))
		}
		return nil
	}

	m.startTracker(*device)
	m.mu.Lock()
	tr := m.byID[device.ID]
	m.mu.Unlock()
	return tr
}

func (m *Module) publishBeat(hb models.Heartbeat) {
	beatsEmitted.Inc()
	m.publish(m.baseCtx, TopicBeat, hb)
}

func (m *Module) publish(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, plugin.Event{
		Topic:     topic,
		Source:    "heartbeat",
		Timestamp: time.Now(),
		Payload:   payload,
	}); err != nil {
		m.logger.Error("failed to publish heartbeat event",
			zap.String("topic", topic), zap.Error(err))
	}
}
