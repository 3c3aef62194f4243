package heartbeat

import "time"

// Event topics consumed by the heartbeat module.
const (
	TopicScan             = "mqtt.scan"
	TopicDeviceAdded      = "catalog.device.added"
	TopicDeviceRemoved    = "catalog.device.removed"
	TopicRecordingStarted = "learn.recording_started"
)

// Event topics published by the heartbeat module.
const (
	// TopicSignal carries a SignalEvent for each raw scan accepted by a tracker.
	TopicSignal = "heartbeat.signal"
	// TopicBeat carries a models.Heartbeat whenever a tracker's vector changed.
	TopicBeat = "heartbeat.beat"
)

// SignalEvent is published on TopicSignal when a tracker accepts a raw scan.
type SignalEvent struct {
	DeviceID    int64     `json:"device_id"`
	ScannerUUID string    `json:"scanner_uuid"`
	RSSI        float64   `json:"rssi"`
	When        time.Time `json:"when"`
}
