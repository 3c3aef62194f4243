package sensor

// Event topics consumed by the sensor module.
const (
	TopicOccupancy     = "predict.occupancy"
	TopicRoomAdded     = "catalog.room.added"
	TopicRoomRemoved   = "catalog.room.removed"
	TopicDeviceRemoved = "catalog.device.removed"
	TopicConnected     = "mqtt.connected"
)

// Event topics published by the sensor module.
const (
	// TopicPublish carries an mqtt.PublishRequest to the transport.
	TopicPublish = "sensor.publish"
	// TopicRoomState announces a RoomState whenever a room's occupancy or
	// active device set changes.
	TopicRoomState = "sensor.room_state"
)

// RoomState is the internal announcement of a room's occupancy.
type RoomState struct {
	RoomID    int64   `json:"room_id"`
	Occupied  bool    `json:"occupied"`
	DeviceIDs []int64 `json:"device_ids"`
}
