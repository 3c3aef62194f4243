package catalog

// Event topics published by the catalog module. Payloads are the
// affected models.Device / models.Room / models.Scanner values.
const (
	TopicDeviceAdded    = "catalog.device.added"
	TopicDeviceRemoved  = "catalog.device.removed"
	TopicRoomAdded      = "catalog.room.added"
	TopicRoomRemoved    = "catalog.room.removed"
	TopicScannerAdded   = "catalog.scanner.added"
	TopicScannerRemoved = "catalog.scanner.removed"
)
