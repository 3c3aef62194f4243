package learn

// Event topics consumed by the learn module.
const (
	TopicStartRecording = "learn.start_recording"
	TopicStopRecording  = "learn.stop_recording"
	TopicTrain          = "learn.train"
	TopicSignal         = "heartbeat.signal"
	TopicDeviceRemoved  = "catalog.device.removed"
	TopicRoomRemoved    = "catalog.room.removed"
)

// Event topics published by the learn module.
const (
	// TopicRecordingStarted carries a models.RecordingStarted.
	TopicRecordingStarted = "learn.recording_started"
	// TopicRecordingStopped carries a models.RecordingStopped.
	TopicRecordingStopped = "learn.recording_stopped"
	// TopicSignalRecorded carries a SignalRecorded for every persisted signal.
	TopicSignalRecorded = "learn.signal"
	// TopicTrainingProgress carries a TrainingProgress.
	TopicTrainingProgress = "learn.training_progress"
)

// StartRecording asks the recorder to open a session for (device, room).
type StartRecording struct {
	DeviceID int64 `json:"device_id"`
	RoomID   int64 `json:"room_id"`
}

// TrainRequest asks the trainer to rebuild a device's prediction model.
type TrainRequest struct {
	DeviceID int64 `json:"device_id"`
}

// SignalRecorded notifies UIs that a labelled signal was persisted.
// IsEnough turns true once the session holds enough samples to train on.
type SignalRecorded struct {
	SessionID   int64   `json:"session_id"`
	DeviceID    int64   `json:"device_id"`
	RoomID      int64   `json:"room_id"`
	ScannerUUID string  `json:"scanner_uuid"`
	RSSI        float64 `json:"rssi"`
	IsEnough    bool    `json:"is_enough"`
}

// TrainingProgress reports the state of a training run.
type TrainingProgress struct {
	DeviceID int64   `json:"device_id"`
	Message  string  `json:"message"`
	Accuracy float64 `json:"accuracy,omitempty"`
	IsError  bool    `json:"is_error"`
	IsFinal  bool    `json:"is_final"`
}
