package predict

import "github.com/HerbHall/roomsense/pkg/models"

// Event topics consumed by the predict module.
const (
	TopicBeat             = "heartbeat.beat"
	TopicDeviceAdded      = "catalog.device.added"
	TopicDeviceRemoved    = "catalog.device.removed"
	TopicRoomAdded        = "catalog.room.added"
	TopicRoomRemoved      = "catalog.room.removed"
	TopicScannerAdded     = "catalog.scanner.added"
	TopicScannerRemoved   = "catalog.scanner.removed"
	TopicTrainingProgress = "learn.training_progress"
)

// Event topics published by the predict module.
const (
	// TopicOccupancy carries an OccupancyEvent per inferred heartbeat.
	TopicOccupancy = "predict.occupancy"
)

// OccupancyEvent is the per-device result of one inference. RoomOccupancy is
// empty when the device's heartbeat carried no signals.
type OccupancyEvent struct {
	DeviceID      int64                  `json:"device_id"`
	RoomOccupancy []models.RoomOccupancy `json:"room_occupancy"`
}
