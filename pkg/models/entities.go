// Package models defines the persisted entities shared across RoomSense
// modules, plus the pure helpers derived from them.
package models

import (
	"strings"
	"time"
)

// Device is a tracked mobile device publishing BLE advertisements.
type Device struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	UUID              string    `json:"uuid"`
	UseNameAsID       bool      `json:"use_name_as_id"`
	DisplayName       string    `json:"display_name"`
	PredictionModelID *int64    `json:"prediction_model_id,omitempty"`
	LatestSignalAt    *time.Time `json:"latest_signal_at,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Identifier returns the key scanners publish this device under:
// the name when use_name_as_id is set, the uuid otherwise.
func (d *Device) Identifier() string {
	if d.UseNameAsID && d.Name != "" {
		return d.Name
	}
	return d.UUID
}

// NormalizeDeviceKey canonicalizes a device key as it appears in scanner
// payloads: lowercased with colons stripped ("AA:BB:CC" -> "aabbcc").
func NormalizeDeviceKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), ":", "")
}

// Room is a physical room a device can occupy.
type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scanner is a fixed BLE scanner publishing RSSI observations.
type Scanner struct {
	ID             int64      `json:"id"`
	UUID           string     `json:"uuid"`
	DisplayName    string     `json:"display_name"`
	LatestSignalAt *time.Time `json:"latest_signal_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PredictionModel is a trained per-device room classifier. Model holds the
// serialized estimator; InputsHash fingerprints the room/scanner set the
// model was trained against.
type PredictionModel struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	Accuracy    float64   `json:"accuracy"`
	InputsHash  string    `json:"inputs_hash"`
	Model       []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// LearningSession is one Start/Stop recording cycle for a (device, room).
type LearningSession struct {
	ID        int64     `json:"id"`
	DeviceID  int64     `json:"device_id"`
	RoomID    int64     `json:"room_id"`
	CreatedAt time.Time `json:"created_at"`
}

// DeviceSignal is a single labelled RSSI observation persisted during a
// learning session.
type DeviceSignal struct {
	ID                int64     `json:"id"`
	LearningSessionID *int64    `json:"learning_session_id,omitempty"`
	DeviceID          int64     `json:"device_id"`
	RoomID            int64     `json:"room_id"`
	ScannerID         int64     `json:"scanner_id"`
	RSSI              float64   `json:"rssi"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// RawScan is a single BLE observation forwarded by a scanner. Never persisted.
type RawScan struct {
	ScannerUUID string    `json:"scanner_uuid"`
	DeviceKey   string    `json:"device_key"`
	RSSI        float64   `json:"rssi"`
	When        time.Time `json:"when"`
}

// Heartbeat is a periodic per-device vector of filtered RSSI values, one
// slot per known scanner. Signals is nil when every value is at the floor.
type Heartbeat struct {
	DeviceID  int64              `json:"device_id"`
	Signals   map[string]float64 `json:"signals,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// RecordingStarted announces a newly opened learning session. Never persisted.
type RecordingStarted struct {
	SessionID int64 `json:"session_id"`
	DeviceID  int64 `json:"device_id"`
	RoomID    int64 `json:"room_id"`
}

// RecordingStopped announces that the active learning session was closed,
// either explicitly or by a device/room removal cascade.
type RecordingStopped struct {
	SessionID int64 `json:"session_id"`
	DeviceID  int64 `json:"device_id"`
	RoomID    int64 `json:"room_id"`
}

// RoomOccupancy is one room's entry in an occupancy prediction.
type RoomOccupancy struct {
	RoomID      int64   `json:"room_id"`
	State       bool    `json:"state"`
	Probability float64 `json:"probability"`
}
