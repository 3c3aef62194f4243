// Package predict runs per-device room inference on heartbeat vectors using
// the trained models stored in the catalog.
package predict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/roomsense/internal/catalog"
	"github.com/HerbHall/roomsense/internal/learn"
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
	predictionsRun = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomsense_predict_runs_total",
		Help: "Inferences executed on the worker pool.",
	})
	predictionsStale = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomsense_predict_skipped_stale_total",
		Help: "Inferences skipped because the model's inputs hash is stale.",
	})
)

func init() {
	prometheus.MustRegister(predictionsRun, predictionsStale)
}

// cachedModel pairs a deserialized estimator with the hash it was trained on.
type cachedModel struct {
	estimator  learn.Estimator
	inputsHash string
	staleWarn  bool // warned about staleness since the last success
}

// Module implements the predictor plugin.
type Module struct {
	logger *zap.Logger
	bus    plugin.EventBus
	repo   catalog.Repository
	cfg    Config

	mu       sync.Mutex
	models   map[int64]*cachedModel
	hash     string // memoised current inputs hash, "" = unknown
	scanners []models.Scanner

	sem chan struct{} // bounded inference pool
	wg  sync.WaitGroup
}

// New creates the predict module.
func New() *Module {
	return &Module{models: make(map[int64]*cachedModel)}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "predict",
		Version:      "0.1.0",
		Description:  "Room occupancy inference from heartbeats",
		Dependencies: []string{"catalog", "heartbeat"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("predict config: %w", err)
		}
	}
	if m.cfg.Workers <= 0 {
		m.cfg.Workers = DefaultConfig().Workers
	}
	m.sem = make(chan struct{}, m.cfg.Workers)

	p, ok := deps.Plugins.Resolve("catalog")
	if !ok {
		return fmt.Errorf("catalog module not available")
	}
	repo, ok := p.(catalog.Repository)
	if !ok {
		return fmt.Errorf("catalog module does not implement the repository contract")
	}
	m.repo = repo

	m.logger.Info("predict module initialized", zap.Int("workers", m.cfg.Workers))
	return nil
}

func (m *Module) Start(_ context.Context) error {
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.wg.Wait()
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: TopicBeat, Handler: m.handleBeat},
		{Topic: TopicDeviceAdded, Handler: m.handleDeviceAdded},
		{Topic: TopicDeviceRemoved, Handler: m.handleDeviceRemoved},
		{Topic: TopicRoomAdded, Handler: m.invalidateHash},
		{Topic: TopicRoomRemoved, Handler: m.invalidateHash},
		{Topic: TopicScannerAdded, Handler: m.invalidateHash},
		{Topic: TopicScannerRemoved, Handler: m.invalidateHash},
		{Topic: TopicTrainingProgress, Handler: m.handleTrainingProgress},
	}
}

func (m *Module) handleDeviceAdded(ctx context.Context, e plugin.Event) {
	device, ok := e.Payload.(models.Device)
	if !ok {
		return
	}
	m.loadModel(ctx, device.ID)
}

func (m *Module) handleDeviceRemoved(ctx context.Context, e plugin.Event) {
	device, ok := e.Payload.(models.Device)
	if !ok {
		return
	}
	m.mu.Lock()
	delete(m.models, device.ID)
	m.mu.Unlock()
}

// handleTrainingProgress reloads a device's model after a successful run.
func (m *Module) handleTrainingProgress(ctx context.Context, e plugin.Event) {
	progress, ok := e.Payload.(learn.TrainingProgress)
	if !ok {
		return
	}
	if progress.IsFinal && !progress.IsError {
		m.loadModel(ctx, progress.DeviceID)
	}
}

func (m *Module) invalidateHash(_ context.Context, _ plugin.Event) {
	m.mu.Lock()
	m.hash = ""
	m.scanners = nil
	m.mu.Unlock()
}

func (m *Module) handleBeat(ctx context.Context, e plugin.Event) {
	hb, ok := e.Payload.(models.Heartbeat)
	if !ok {
		return
	}

	m.mu.Lock()
	cached := m.models[hb.DeviceID]
	m.mu.Unlock()
	if cached == nil {
		return
	}

	if hb.Signals == nil {
		m.publishOccupancy(ctx, OccupancyEvent{
			DeviceID: hb.DeviceID, RoomOccupancy: []models.RoomOccupancy{},
		})
		return
	}

	hash, scanners, err := m.currentInputs(ctx)
	if err != nil {
		m.logger.Error("failed to compute inputs hash", zap.Error(err))
		return
	}
	if hash != cached.inputsHash {
		predictionsStale.Inc()
		m.mu.Lock()
		warn := !cached.staleWarn
		cached.staleWarn = true
		m.mu.Unlock()
		if warn {
			m.logger.Warn("model is stale, skipping predictions",
				zap.Int64("device_id", hb.DeviceID),
				zap.String("model_hash", cached.inputsHash),
				zap.String("current_hash", hash),
			)
		}
		return
	}

	features := featureRow(hb.Signals, scanners)

	m.wg.Add(1)
	m.sem <- struct{}{}
	go func() {
		defer m.wg.Done()
		defer func() { <-m.sem }()
		m.infer(ctx, hb.DeviceID, cached, features)
	}()
}

// infer runs one prediction on the pool. The result is discarded when the
// device was removed while the job was in flight.
func (m *Module) infer(ctx context.Context, deviceID int64, cached *cachedModel, features []float64) {
	occupancy, err := cached.estimator.Predict(features)
	if err != nil {
		m.logger.Error("inference failed",
			zap.Int64("device_id", deviceID), zap.Error(err))
		return
	}
	predictionsRun.Inc()

	m.mu.Lock()
	_, alive := m.models[deviceID]
	cached.staleWarn = false
	m.mu.Unlock()
	if !alive {
		return
	}

	m.publishOccupancy(ctx, OccupancyEvent{DeviceID: deviceID, RoomOccupancy: occupancy})
}

// loadModel fetches, deserializes, and caches a device's model. Devices
// without a model are simply absent from the cache.
func (m *Module) loadModel(ctx context.Context, deviceID int64) {
	pm, err := m.repo.GetPredictionModel(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			m.logger.Error("failed to load prediction model",
				zap.Int64("device_id", deviceID), zap.Error(err))
		}
		return
	}

	estimator, err := learn.UnmarshalEstimator(pm.Model)
	if err != nil {
		m.logger.Error("failed to deserialize prediction model",
			zap.Int64("device_id", deviceID),
			zap.Int64("model_id", pm.ID),
			zap.Error(err),
		)
		return
	}

	m.mu.Lock()
	m.models[deviceID] = &cachedModel{estimator: estimator, inputsHash: pm.InputsHash}
	m.mu.Unlock()
	m.logger.Info("prediction model loaded",
		zap.Int64("device_id", deviceID),
		zap.Float64("accuracy", pm.Accuracy),
	)
}

// currentInputs returns the memoised inputs hash and scanner list,
// recomputing them after a room or scanner mutation.
func (m *Module) currentInputs(ctx context.Context) (string, []models.Scanner, error) {
	m.mu.Lock()
	if m.hash != "" {
		hash, scanners := m.hash, m.scanners
		m.mu.Unlock()
		return hash, scanners, nil
	}
	m.mu.Unlock()

	rooms, err := m.repo.ListRooms(ctx)
	if err != nil {
		return "", nil, err
	}
	scanners, err := m.repo.ListScanners(ctx)
	if err != nil {
		return "", nil, err
	}
	sorted := make([]models.Scanner, len(scanners))
	copy(sorted, scanners)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	hash := models.InputsHash(rooms, sorted)
	m.mu.Lock()
	m.hash = hash
	m.scanners = sorted
	m.mu.Unlock()
	return hash, sorted, nil
}

// featureRow builds the dense inference row: scanner id order, values keyed
// by scanner uuid in the heartbeat, missing scanners at the floor.
func featureRow(signals map[string]float64, scanners []models.Scanner) []float64 {
	row := make([]float64, len(scanners))
	for i, sc := range scanners {
		if v, ok := signals[sc.UUID]; ok {
			row[i] = v
		} else {
			row[i] = -100
		}
	}
	return row
}

func (m *Module) publishOccupancy(ctx context.Context, occ OccupancyEvent) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, plugin.Event{
		Topic:     TopicOccupancy,
		Source:    "predict",
		Timestamp: time.Now(),
		Payload:   occ,
	}); err != nil {
		m.logger.Error("failed to publish occupancy", zap.Error(err))
	}
}
