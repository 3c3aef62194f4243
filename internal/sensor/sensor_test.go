package sensor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/roomsense/internal/event"
	"github.com/HerbHall/roomsense/internal/mqtt"
	"github.com/HerbHall/roomsense/internal/predict"
	"github.com/HerbHall/roomsense/pkg/models"
	"github.com/HerbHall/roomsense/pkg/plugin"
	"go.uber.org/zap"
)

type testEnv struct {
	sensor *Module
	bus    *event.Bus
	clock  time.Time

	published []mqtt.PublishRequest
	states    []RoomState
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bus := event.NewBus(zap.NewNop())

	m := New()
	if err := m.Init(context.Background(), plugin.Dependencies{
		Logger: zap.NewNop(), Bus: bus,
	}); err != nil {
		t.Fatalf("sensor Init: %v", err)
	}
	for _, sub := range m.Subscriptions() {
		bus.Subscribe(sub.Topic, sub.Handler)
	}

	env := &testEnv{sensor: m, bus: bus, clock: time.Now()}
	m.now = func() time.Time { return env.clock }
	bus.Subscribe(TopicPublish, func(ctx context.Context, e plugin.Event) {
		env.published = append(env.published, e.Payload.(mqtt.PublishRequest))
	})
	bus.Subscribe(TopicRoomState, func(ctx context.Context, e plugin.Event) {
		env.states = append(env.states, e.Payload.(RoomState))
	})
	return env
}

func (env *testEnv) emit(topic string, payload any) {
	env.bus.Publish(context.Background(), plugin.Event{
		Topic: topic, Source: "test", Timestamp: env.clock, Payload: payload,
	})
}

func (env *testEnv) addRoom(id int64, name string) {
	env.emit(TopicRoomAdded, models.Room{ID: id, Name: name})
}

func (env *testEnv) occupancy(deviceID int64, occ []models.RoomOccupancy) {
	env.emit(TopicOccupancy, predict.OccupancyEvent{DeviceID: deviceID, RoomOccupancy: occ})
}

func (env *testEnv) statePublishes(roomID int64) []string {
	topic := mqtt.RoomStateTopic(roomID)
	var out []string
	for _, p := range env.published {
		if p.Topic == topic {
			out = append(out, string(p.Payload))
		}
	}
	return out
}

func (env *testEnv) configPublishes(roomID int64) []mqtt.PublishRequest {
	topic := mqtt.RoomConfigTopic(roomID)
	var out []mqtt.PublishRequest
	for _, p := range env.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func TestSensor_RoomAddedPublishesDiscovery(t *testing.T) {
	env := newTestEnv(t)
	env.addRoom(1, "Living Room")

	configs := env.configPublishes(1)
	if len(configs) != 1 {
		t.Fatalf("config publishes = %d, want 1", len(configs))
	}
	cfg := configs[0]
	if !cfg.Retain {
		t.Error("discovery config must be retained")
	}
	if !strings.Contains(string(cfg.Payload), `"unique_id":"room_occupancy.1.living_room"`) {
		t.Errorf("discovery payload = %s", cfg.Payload)
	}
}

func TestSensor_RoomRemovedClearsRetainedConfig(t *testing.T) {
	env := newTestEnv(t)
	env.addRoom(1, "office")
	env.emit(TopicRoomRemoved, models.Room{ID: 1, Name: "office"})

	configs := env.configPublishes(1)
	if len(configs) != 2 {
		t.Fatalf("config publishes = %d, want add + removal", len(configs))
	}
	removal := configs[1]
	if len(removal.Payload) != 0 || !removal.Retain {
		t.Errorf("removal = %+v, want empty retained payload", removal)
	}
}

// The ON publishes immediately; the OFF only after both the time and beat
// thresholds, and each exactly once despite the repeated events.
func TestSensor_DebouncedOffLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.sensor.cfg = Config{ChangeStateSeconds: 10 * time.Second, ChangeStateBeats: 3}
	env.addRoom(1, "office")

	for i := 0; i < 3; i++ {
		env.occupancy(7, occ(1, true))
		env.clock = env.clock.Add(time.Second)
	}
	if got := env.statePublishes(1); len(got) != 1 || got[0] != "ON" {
		t.Fatalf("state publishes after ON events = %v, want [ON]", got)
	}

	for i := 0; i < 11; i++ {
		env.occupancy(7, occ(1, false))
		env.clock = env.clock.Add(time.Second)
		if i < 10 {
			if got := env.statePublishes(1); len(got) != 1 {
				t.Fatalf("premature publish at OFF event %d: %v", i, got)
			}
		}
	}
	if got := env.statePublishes(1); len(got) != 2 || got[1] != "OFF" {
		t.Fatalf("state publishes = %v, want [ON OFF]", got)
	}
}

func TestSensor_EmptyOccupancyTurnsRoomsOff(t *testing.T) {
	env := newTestEnv(t)
	env.addRoom(1, "office")
	env.addRoom(2, "kitchen")

	env.occupancy(7, occ(1, true))
	env.occupancy(7, nil)

	if got := env.statePublishes(1); len(got) != 2 || got[1] != "OFF" {
		t.Errorf("room 1 publishes = %v, want [ON OFF]", got)
	}
	if got := env.statePublishes(2); len(got) != 0 {
		t.Errorf("room 2 published %v without ever being occupied", got)
	}
}

func TestSensor_RepeatedIdenticalEventsPublishOnce(t *testing.T) {
	env := newTestEnv(t)
	env.addRoom(1, "office")

	for i := 0; i < 5; i++ {
		env.occupancy(7, occ(1, true))
		env.clock = env.clock.Add(time.Second)
	}
	if got := env.statePublishes(1); len(got) != 1 {
		t.Errorf("state publishes = %v, want exactly one ON", got)
	}

	// A second device in the same room changes the active set but not the
	// published state.
	env.occupancy(8, occ(1, true))
	if got := env.statePublishes(1); len(got) != 1 {
		t.Errorf("state publishes after second device = %v, want still one", got)
	}
	last := env.states[len(env.states)-1]
	if len(last.DeviceIDs) != 2 {
		t.Errorf("room state devices = %v, want both", last.DeviceIDs)
	}
}

// After a broker reconnect every room's config and state are republished
// exactly once.
func TestSensor_ReconnectRepublishesAllRooms(t *testing.T) {
	env := newTestEnv(t)
	env.addRoom(1, "office")
	env.addRoom(2, "kitchen")
	env.occupancy(7, occ(1, true))
	env.published = nil

	// Initial connect is not a reconnect.
	env.emit(TopicConnected, false)
	if len(env.published) != 0 {
		t.Fatalf("initial connect published %d requests", len(env.published))
	}

	env.emit(TopicConnected, true)
	for _, roomID := range []int64{1, 2} {
		if got := env.configPublishes(roomID); len(got) != 1 {
			t.Errorf("room %d config republishes = %d, want 1", roomID, len(got))
		}
		if got := env.statePublishes(roomID); len(got) != 1 {
			t.Errorf("room %d state republishes = %d, want 1", roomID, len(got))
		}
	}
	if got := env.statePublishes(1); len(got) == 1 && got[0] != "ON" {
		t.Errorf("room 1 republished state = %v, want ON", got)
	}
	if got := env.statePublishes(2); len(got) == 1 && got[0] != "OFF" {
		t.Errorf("room 2 republished state = %v, want OFF", got)
	}
}

func TestSensor_DeviceRemovalVacatesRooms(t *testing.T) {
	env := newTestEnv(t)
	env.addRoom(1, "office")
	env.occupancy(7, occ(1, true))

	env.emit(TopicDeviceRemoved, models.Device{ID: 7})
	if got := env.statePublishes(1); len(got) != 2 || got[1] != "OFF" {
		t.Errorf("state publishes = %v, want [ON OFF]", got)
	}
}
