// Package sensor turns per-device occupancy predictions into debounced room
// state and advertises each room to Home Assistant over the mqtt transport.
package sensor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/roomsense/internal/mqtt"
	"github.com/HerbHall/roomsense/internal/predict"
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

var statePublishes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "roomsense_sensor_state_publishes_total",
	Help: "Retained room state publications, by trigger.",
}, []string{"trigger"})

func init() {
	prometheus.MustRegister(statePublishes)
}

// roomTracker holds one room's published occupancy.
type roomTracker struct {
	room          models.Room
	state         bool
	activeDevices map[int64]bool
}

// Module implements the occupancy sensor plugin.
type Module struct {
	logger *zap.Logger
	bus    plugin.EventBus
	cfg    Config

	mu      sync.Mutex
	devices map[int64]*deviceState
	rooms   map[int64]*roomTracker

	// now is swapped out by tests.
	now func() time.Time
}

func New() *Module {
	return &Module{
		devices: make(map[int64]*deviceState),
		rooms:   make(map[int64]*roomTracker),
		now:     time.Now,
	}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "sensor",
		Version:      "0.1.0",
		Description:  "Debounced room occupancy sensors for Home Assistant",
		Dependencies: []string{"catalog", "predict"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("sensor config: %w", err)
		}
	}
	m.cfg = m.cfg.withDefaults()
	return nil
}

func (m *Module) Start(_ context.Context) error { return nil }

func (m *Module) Stop(_ context.Context) error { return nil }

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: TopicOccupancy, Handler: m.handleOccupancy},
		{Topic: TopicRoomAdded, Handler: m.handleRoomAdded},
		{Topic: TopicRoomRemoved, Handler: m.handleRoomRemoved},
		{Topic: TopicDeviceRemoved, Handler: m.handleDeviceRemoved},
		{Topic: TopicConnected, Handler: m.handleConnected},
	}
}

func (m *Module) handleOccupancy(ctx context.Context, e plugin.Event) {
	occ, ok := e.Payload.(predict.OccupancyEvent)
	if !ok {
		return
	}
	now := m.now()

	m.mu.Lock()
	ds := m.devices[occ.DeviceID]
	if ds == nil {
		ds = newDeviceState()
		m.devices[occ.DeviceID] = ds
	}
	ds.apply(occ.RoomOccupancy, now, m.cfg)
	states, publishes := m.refreshRoomsLocked(false)
	m.mu.Unlock()

	m.emit(ctx, states, publishes)
}

func (m *Module) handleRoomAdded(ctx context.Context, e plugin.Event) {
	room, ok := e.Payload.(models.Room)
	if !ok {
		return
	}

	m.mu.Lock()
	if _, exists := m.rooms[room.ID]; !exists {
		m.rooms[room.ID] = &roomTracker{room: room, activeDevices: make(map[int64]bool)}
	}
	m.mu.Unlock()

	req, err := mqtt.BuildRoomDiscovery(room)
	if err != nil {
		m.logger.Error("failed to build discovery config",
			zap.Int64("room_id", room.ID), zap.Error(err))
		return
	}
	m.requestPublish(ctx, req)
}

func (m *Module) handleRoomRemoved(ctx context.Context, e plugin.Event) {
	room, ok := e.Payload.(models.Room)
	if !ok {
		return
	}

	m.mu.Lock()
	delete(m.rooms, room.ID)
	for _, ds := range m.devices {
		delete(ds.inRooms, room.ID)
		delete(ds.pending, room.ID)
	}
	m.mu.Unlock()

	m.requestPublish(ctx, mqtt.BuildRoomRemoval(room.ID))
}

func (m *Module) handleDeviceRemoved(ctx context.Context, e plugin.Event) {
	device, ok := e.Payload.(models.Device)
	if !ok {
		return
	}
	m.mu.Lock()
	delete(m.devices, device.ID)
	states, publishes := m.refreshRoomsLocked(false)
	m.mu.Unlock()

	m.emit(ctx, states, publishes)
}

// handleConnected re-advertises every room after the broker came back, so
// retained topics survive a broker restart that lost them.
func (m *Module) handleConnected(ctx context.Context, e plugin.Event) {
	reconnected, ok := e.Payload.(bool)
	if !ok || !reconnected {
		return
	}

	m.mu.Lock()
	trackers := make([]*roomTracker, 0, len(m.rooms))
	for _, rt := range m.rooms {
		trackers = append(trackers, rt)
	}
	m.mu.Unlock()
	sort.Slice(trackers, func(i, j int) bool { return trackers[i].room.ID < trackers[j].room.ID })

	for _, rt := range trackers {
		req, err := mqtt.BuildRoomDiscovery(rt.room)
		if err != nil {
			m.logger.Error("failed to build discovery config",
				zap.Int64("room_id", rt.room.ID), zap.Error(err))
			continue
		}
		m.requestPublish(ctx, req)
		m.requestPublish(ctx, mqtt.BuildRoomState(rt.room.ID, rt.state))
		statePublishes.WithLabelValues("reconnect").Inc()
	}
	m.logger.Info("re-advertised rooms after reconnect", zap.Int("rooms", len(trackers)))
}

// refreshRoomsLocked recomputes every room tracker from the device states.
// It returns the announcements and broker publications the caller must emit
// after releasing m.mu; the bus is synchronous, so emitting under the lock
// would hand it to arbitrary subscribers.
func (m *Module) refreshRoomsLocked(force bool) ([]RoomState, []mqtt.PublishRequest) {
	var states []RoomState
	var publishes []mqtt.PublishRequest
	for roomID, rt := range m.rooms {
		active := make(map[int64]bool)
		for deviceID, ds := range m.devices {
			if ds.inRooms[roomID] {
				active[deviceID] = true
			}
		}
		occupied := len(active) > 0

		if occupied == rt.state && equalDeviceSets(active, rt.activeDevices) && !force {
			continue
		}
		stateChanged := occupied != rt.state
		rt.state = occupied
		rt.activeDevices = active

		states = append(states, RoomState{
			RoomID: roomID, Occupied: occupied, DeviceIDs: deviceIDs(active),
		})
		if stateChanged || force {
			publishes = append(publishes, mqtt.BuildRoomState(roomID, occupied))
			statePublishes.WithLabelValues("change").Inc()
		}
	}
	return states, publishes
}

func (m *Module) emit(ctx context.Context, states []RoomState, publishes []mqtt.PublishRequest) {
	for _, rs := range states {
		m.publishRoomState(ctx, rs)
	}
	for _, req := range publishes {
		m.requestPublish(ctx, req)
	}
}

func equalDeviceSets(a, b map[int64]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b[id] {
			return false
		}
	}
	return true
}

func deviceIDs(set map[int64]bool) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Module) requestPublish(ctx context.Context, req mqtt.PublishRequest) {
	if err := m.bus.Publish(ctx, plugin.Event{
		Topic:     TopicPublish,
		Source:    "sensor",
		Timestamp: m.now(),
		Payload:   req,
	}); err != nil {
		m.logger.Error("failed to request mqtt publish",
			zap.String("topic", req.Topic), zap.Error(err))
	}
}

func (m *Module) publishRoomState(ctx context.Context, rs RoomState) {
	if err := m.bus.Publish(ctx, plugin.Event{
		Topic:     TopicRoomState,
		Source:    "sensor",
		Timestamp: m.now(),
		Payload:   rs,
	}); err != nil {
		m.logger.Error("failed to publish room state", zap.Error(err))
	}
}
