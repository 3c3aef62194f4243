// Package ws streams live RoomSense events to WebSocket clients: recorded
// learning signals, training progress, room state changes, and heartbeats.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/HerbHall/roomsense/internal/event"
	"github.com/HerbHall/roomsense/internal/heartbeat"
	"github.com/HerbHall/roomsense/internal/learn"
	"github.com/HerbHall/roomsense/internal/sensor"
	"github.com/HerbHall/roomsense/pkg/plugin"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ plugin.Plugin = (*Module)(nil)

// queueBus is the bounded subscription surface the in-memory bus provides on
// top of plugin.EventBus.
type queueBus interface {
	SubscribeQueue(topic string, size int) *event.Queue
}

// forwardedTopics maps bus topics to the WebSocket message type each becomes.
var forwardedTopics = map[string]MessageType{
	learn.TopicSignalRecorded:   MessageSignalRecorded,
	learn.TopicTrainingProgress: MessageTrainingProgress,
	sensor.TopicRoomState:       MessageRoomState,
	heartbeat.TopicBeat:         MessageHeartbeat,
}

// Module bridges the event bus to WebSocket clients.
type Module struct {
	logger *zap.Logger
	bus    plugin.EventBus
	cfg    Config
	hub    *Hub

	cancel context.CancelFunc
	queues []*event.Queue
	wg     sync.WaitGroup
}

func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "ws",
		Version:     "0.1.0",
		Description: "WebSocket streaming of live events",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("ws config: %w", err)
		}
	}
	m.cfg = m.cfg.withDefaults()
	m.hub = NewHub(m.logger)
	return nil
}

// Start binds one bounded queue per forwarded topic and spawns a drain
// goroutine for each. The queues keep a slow WebSocket fanout from ever
// blocking bus publishers.
func (m *Module) Start(_ context.Context) error {
	qb, ok := m.bus.(queueBus)
	if !ok {
		return fmt.Errorf("event bus does not support queue subscriptions")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	for topic, msgType := range forwardedTopics {
		q := qb.SubscribeQueue(topic, m.cfg.QueueSize)
		m.queues = append(m.queues, q)
		m.wg.Add(1)
		go m.forward(ctx, q, msgType)
	}
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	for _, q := range m.queues {
		q.Close()
	}
	m.wg.Wait()
	return nil
}

func (m *Module) forward(ctx context.Context, q *event.Queue, msgType MessageType) {
	defer m.wg.Done()
	for {
		e, ok := q.Next(ctx)
		if !ok {
			return
		}
		m.hub.Broadcast(Message{
			Type:      msgType,
			Timestamp: e.Timestamp,
			Data:      e.Payload,
		})
	}
}

// RegisterRoutes mounts the streaming endpoint on the server mux.
func (m *Module) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/events", m.handleStream)
}

// handleStream upgrades the connection and streams events until the client
// disconnects.
func (m *Module) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		m.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		id:     uuid.NewString(),
		send:   make(chan Message, m.cfg.SendBuffer),
		logger: m.logger,
	}
	m.hub.Register(client)

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	// readPump blocks until client disconnects.
	client.readPump(ctx)

	m.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}
