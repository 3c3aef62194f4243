package mqtt

// Event topics published by the mqtt module.
const (
	// TopicScan carries a models.RawScan decoded from an inbound message.
	TopicScan = "mqtt.scan"
	// TopicConnected fires after each (re)connect, once the inbound
	// subscription is in place. Payload is a bool: true when this connect
	// follows a disconnect, so retained topics need re-advertising.
	TopicConnected = "mqtt.connected"
	// TopicDisconnected fires when the broker connection is lost.
	TopicDisconnected = "mqtt.disconnected"
)

// Event topics consumed by the mqtt module.
const (
	// TopicPublishRequest carries a PublishRequest to forward to the broker.
	TopicPublishRequest = "sensor.publish"
)

// PublishRequest asks the mqtt module to write a payload to the broker.
// An empty Payload with Retain set clears a retained topic.
type PublishRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
	Retain  bool   `json:"retain"`
}
