// Package learn records labelled device signals during learning sessions and
// trains per-device room classifiers from them.
package learn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/roomsense/internal/catalog"
	"github.com/HerbHall/roomsense/internal/heartbeat"
	"github.com/HerbHall/roomsense/pkg/models"
	"github.com/HerbHall/roomsense/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
)

// session is the active recording state. At most one exists at a time.
type session struct {
	id       int64
	deviceID int64
	roomID   int64
	counts   map[int64]int // samples per scanner id
	enough   bool          // latched once the thresholds are met
}

// Module implements the learning recorder and trainer plugin.
type Module struct {
	logger  *zap.Logger
	bus     plugin.EventBus
	repo    catalog.Repository
	cfg     Config
	trainer *trainer

	mu     sync.Mutex
	active *session
	warned map[string]bool // scanner uuids already warned about

	trainMu sync.Mutex // one training run at a time
	wg      sync.WaitGroup
}

// New creates the learn module.
func New() *Module {
	return &Module{warned: make(map[string]bool)}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "learn",
		Version:      "0.1.0",
		Description:  "Labelled signal recording and model training",
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
			return fmt.Errorf("learn config: %w", err)
		}
	}
	if m.cfg.KalmanQ <= 0 {
		m.cfg.KalmanQ = DefaultConfig().KalmanQ
	}
	if m.cfg.KalmanR <= 0 {
		m.cfg.KalmanR = DefaultConfig().KalmanR
	}

	p, ok := deps.Plugins.Resolve("catalog")
	if !ok {
		return fmt.Errorf("catalog module not available")
	}
	repo, ok := p.(catalog.Repository)
	if !ok {
		return fmt.Errorf("catalog module does not implement the repository contract")
	}
	m.repo = repo
	m.trainer = &trainer{repo: repo, cfg: m.cfg}

	m.logger.Info("learn module initialized")
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
		{Topic: TopicStartRecording, Handler: m.handleStart},
		{Topic: TopicStopRecording, Handler: m.handleStop},
		{Topic: TopicSignal, Handler: m.handleSignal},
		{Topic: TopicDeviceRemoved, Handler: m.handleDeviceRemoved},
		{Topic: TopicRoomRemoved, Handler: m.handleRoomRemoved},
		{Topic: TopicTrain, Handler: m.handleTrain},
	}
}

func (m *Module) handleStart(ctx context.Context, e plugin.Event) {
	req, ok := e.Payload.(StartRecording)
	if !ok {
		return
	}

	ls := &models.LearningSession{DeviceID: req.DeviceID, RoomID: req.RoomID}
	if err := m.repo.CreateLearningSession(ctx, ls); err != nil {
		m.logger.Error("failed to open learning session",
			zap.Int64("device_id", req.DeviceID), zap.Error(err))
		return
	}

	m.mu.Lock()
	m.active = &session{
		id:       ls.ID,
		deviceID: req.DeviceID,
		roomID:   req.RoomID,
		counts:   make(map[int64]int),
	}
	m.mu.Unlock()

	m.logger.Info("recording started",
		zap.Int64("session_id", ls.ID),
		zap.Int64("device_id", req.DeviceID),
		zap.Int64("room_id", req.RoomID),
	)
	m.publish(ctx, TopicRecordingStarted, models.RecordingStarted{
		SessionID: ls.ID, DeviceID: req.DeviceID, RoomID: req.RoomID,
	})
}

func (m *Module) handleStop(ctx context.Context, e plugin.Event) {
	m.stopActive(ctx, false)
}

func (m *Module) handleDeviceRemoved(ctx context.Context, e plugin.Event) {
	device, ok := e.Payload.(models.Device)
	if !ok {
		return
	}
	m.mu.Lock()
	matches := m.active != nil && m.active.deviceID == device.ID
	m.mu.Unlock()
	if matches {
		m.stopActive(ctx, true)
	}
}

func (m *Module) handleRoomRemoved(ctx context.Context, e plugin.Event) {
	room, ok := e.Payload.(models.Room)
	if !ok {
		return
	}
	m.mu.Lock()
	matches := m.active != nil && m.active.roomID == room.ID
	m.mu.Unlock()
	if matches {
		m.stopActive(ctx, true)
	}
}

// stopActive clears the active session. Cascaded stops (device or room
// removal) announce themselves so UIs observe the interruption.
func (m *Module) stopActive(ctx context.Context, cascade bool) {
	m.mu.Lock()
	active := m.active
	m.active = nil
	m.mu.Unlock()

	if active == nil {
		return
	}
	m.logger.Info("recording stopped",
		zap.Int64("session_id", active.id),
		zap.Bool("cascade", cascade),
	)
	m.publish(ctx, TopicRecordingStopped, models.RecordingStopped{
		SessionID: active.id, DeviceID: active.deviceID, RoomID: active.roomID,
	})
}

func (m *Module) handleSignal(ctx context.Context, e plugin.Event) {
	sig, ok := e.Payload.(heartbeat.SignalEvent)
	if !ok {
		return
	}

	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil || active.deviceID != sig.DeviceID {
		return
	}

	scanner, err := m.repo.GetScannerByUUID(ctx, sig.ScannerUUID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			m.warnUnknownScanner(sig.ScannerUUID)
		} else {
			m.logger.Error("scanner lookup failed",
				zap.String("scanner_uuid", sig.ScannerUUID), zap.Error(err))
		}
		return
	}

	record := &models.DeviceSignal{
		LearningSessionID: &active.id,
		DeviceID:          active.deviceID,
		RoomID:            active.roomID,
		ScannerID:         scanner.ID,
		RSSI:              sig.RSSI,
		CreatedAt:         sig.When, // the label keeps the observation time
	}
	if err := m.repo.CreateSignal(ctx, record); err != nil {
		m.logger.Error("failed to persist signal",
			zap.Int64("session_id", active.id), zap.Error(err))
		return
	}

	m.mu.Lock()
	active.counts[scanner.ID]++
	if !active.enough {
		active.enough = isEnough(active.counts)
	}
	enough := active.enough
	m.mu.Unlock()

	m.publish(ctx, TopicSignalRecorded, SignalRecorded{
		SessionID:   active.id,
		DeviceID:    active.deviceID,
		RoomID:      active.roomID,
		ScannerUUID: sig.ScannerUUID,
		RSSI:        sig.RSSI,
		IsEnough:    enough,
	})
}

func (m *Module) handleTrain(ctx context.Context, e plugin.Event) {
	req, ok := e.Payload.(TrainRequest)
	if !ok {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.trainMu.Lock()
		defer m.trainMu.Unlock()
		m.runTraining(context.Background(), req.DeviceID)
	}()
}

func (m *Module) runTraining(ctx context.Context, deviceID int64) {
	m.publish(ctx, TopicTrainingProgress, TrainingProgress{
		DeviceID: deviceID, Message: "training started",
	})

	pm, err := m.trainer.train(ctx, deviceID)
	if err != nil {
		m.logger.Error("training failed",
			zap.Int64("device_id", deviceID), zap.Error(err))
		m.publish(ctx, TopicTrainingProgress, TrainingProgress{
			DeviceID: deviceID, Message: err.Error(), IsError: true, IsFinal: true,
		})
		return
	}

	m.logger.Info("training complete",
		zap.Int64("device_id", deviceID),
		zap.Float64("accuracy", pm.Accuracy),
		zap.String("inputs_hash", pm.InputsHash),
	)
	m.publish(ctx, TopicTrainingProgress, TrainingProgress{
		DeviceID: deviceID,
		Message:  "training complete",
		Accuracy: pm.Accuracy,
		IsFinal:  true,
	})
}

// isEnough reports whether the session holds enough samples to train:
// either every observed scanner (capped at three) has at least 20 samples,
// or any single scanner reached 100.
func isEnough(counts map[int64]int) bool {
	need := len(counts)
	if need > enoughScannerCap {
		need = enoughScannerCap
	}
	satisfied := 0
	for _, c := range counts {
		if c >= enoughAnyScanner {
			return true
		}
		if c >= enoughPerScanner {
			satisfied++
		}
	}
	return need > 0 && satisfied >= need
}

func (m *Module) warnUnknownScanner(uuid string) {
	m.mu.Lock()
	seen := m.warned[uuid]
	m.warned[uuid] = true
	m.mu.Unlock()
	if !seen {
		m.logger.Warn("signal from unknown scanner dropped",
			zap.String("scanner_uuid", uuid))
	}
}

func (m *Module) publish(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, plugin.Event{
		Topic:     topic,
		Source:    "learn",
		Timestamp: time.Now(),
		Payload:   payload,
	}); err != nil {
		m.logger.Error("failed to publish learn event",
			zap.String("topic", topic), zap.Error(err))
	}
}
