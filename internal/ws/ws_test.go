package ws

import (
	"context"
	"testing"
	"time"

	"github.com/HerbHall/roomsense/internal/event"
	"github.com/HerbHall/roomsense/internal/learn"
	"github.com/HerbHall/roomsense/internal/sensor"
	"github.com/HerbHall/roomsense/pkg/plugin"
	"go.uber.org/zap"
)

func testClient(buffer int) *Client {
	return &Client{id: "test", send: make(chan Message, buffer), logger: zap.NewNop()}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a := testClient(4)
	b := testClient(4)
	hub.Register(a)
	hub.Register(b)

	hub.Broadcast(Message{Type: MessageRoomState})

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			if msg.Type != MessageRoomState {
				t.Errorf("message type = %q", msg.Type)
			}
		default:
			t.Errorf("client %s received nothing", c.id)
		}
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := testClient(1)
	hub.Register(c)
	if hub.ClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(c)
	if hub.ClientCount() != 0 {
		t.Errorf("client count after unregister = %d", hub.ClientCount())
	}
	if _, open := <-c.send; open {
		t.Error("send channel still open after unregister")
	}

	// Double unregister must not panic on the closed channel.
	hub.Unregister(c)
}

func TestHub_FullClientDropsMessage(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := testClient(1)
	hub.Register(c)

	hub.Broadcast(Message{Type: MessageHeartbeat})
	hub.Broadcast(Message{Type: MessageRoomState}) // buffer full, dropped

	if got := len(c.send); got != 1 {
		t.Fatalf("buffered messages = %d, want 1", got)
	}
	if msg := <-c.send; msg.Type != MessageHeartbeat {
		t.Errorf("surviving message = %q, want the oldest", msg.Type)
	}
}

func TestModule_ForwardsBusEvents(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	m := New()
	ctx := context.Background()
	if err := m.Init(ctx, plugin.Dependencies{Logger: zap.NewNop(), Bus: bus}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(ctx)

	c := testClient(8)
	m.hub.Register(c)

	payload := sensor.RoomState{RoomID: 1, Occupied: true}
	bus.Publish(ctx, plugin.Event{
		Topic: sensor.TopicRoomState, Source: "sensor",
		Timestamp: time.Now(), Payload: payload,
	})
	bus.Publish(ctx, plugin.Event{
		Topic: learn.TopicTrainingProgress, Source: "learn",
		Timestamp: time.Now(), Payload: learn.TrainingProgress{DeviceID: 1},
	})

	got := make(map[MessageType]bool)
	for i := 0; i < 2; i++ {
		select {
		case msg := <-c.send:
			got[msg.Type] = true
			if msg.Type == MessageRoomState {
				if rs, ok := msg.Data.(sensor.RoomState); !ok || rs.RoomID != 1 {
					t.Errorf("room state payload = %#v", msg.Data)
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for forwarded message")
		}
	}
	if !got[MessageRoomState] || !got[MessageTrainingProgress] {
		t.Errorf("forwarded types = %v", got)
	}
}

func TestModule_StopDrainsCleanly(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	m := New()
	ctx := context.Background()
	if err := m.Init(ctx, plugin.Dependencies{Logger: zap.NewNop(), Bus: bus}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Publishing after Stop must not panic or deliver.
	bus.Publish(ctx, plugin.Event{Topic: sensor.TopicRoomState, Timestamp: time.Now()})
}
