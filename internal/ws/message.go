package ws

import "time"

// MessageType discriminates WebSocket messages. Types mirror the bus topics
// they are forwarded from.
type MessageType string

const (
	MessageSignalRecorded   MessageType = "learn.signal"
	MessageTrainingProgress MessageType = "learn.training_progress"
	MessageRoomState        MessageType = "sensor.room_state"
	MessageHeartbeat        MessageType = "heartbeat.beat"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}
