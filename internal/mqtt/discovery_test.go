package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/HerbHall/roomsense/pkg/models"
)

func TestRoomTopics(t *testing.T) {
	if got := RoomConfigTopic(3); got != "homeassistant/binary_sensor/room_3_occupancy/config/config" {
		t.Errorf("RoomConfigTopic = %q", got)
	}
	if got := RoomStateTopic(3); got != "homeassistant/binary_sensor/room_3_occupancy/config/state" {
		t.Errorf("RoomStateTopic = %q", got)
	}
}

func TestBuildRoomDiscovery(t *testing.T) {
	req, err := BuildRoomDiscovery(models.Room{ID: 3, Name: "Living Room"})
	if err != nil {
		t.Fatalf("BuildRoomDiscovery: %v", err)
	}
	if !req.Retain {
		t.Error("discovery config must be retained")
	}
	if req.Topic != RoomConfigTopic(3) {
		t.Errorf("topic = %q", req.Topic)
	}

	var cfg BinarySensorConfig
	if err := json.Unmarshal(req.Payload, &cfg); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if cfg.Name != "Living Room Room Occupancy" {
		t.Errorf("name = %q", cfg.Name)
	}
	if cfg.DeviceClass != "occupancy" {
		t.Errorf("device_class = %q", cfg.DeviceClass)
	}
	if cfg.StateTopic != RoomStateTopic(3) {
		t.Errorf("state_topic = %q", cfg.StateTopic)
	}
	if cfg.UniqueID != "room_occupancy.3.living_room" {
		t.Errorf("unique_id = %q", cfg.UniqueID)
	}
}

func TestBuildRoomRemoval(t *testing.T) {
	req := BuildRoomRemoval(7)
	if len(req.Payload) != 0 {
		t.Errorf("removal payload = %q, want empty", req.Payload)
	}
	if !req.Retain {
		t.Error("removal must be retained to clear the config topic")
	}
	if req.Topic != RoomConfigTopic(7) {
		t.Errorf("topic = %q", req.Topic)
	}
}

func TestBuildRoomState(t *testing.T) {
	tests := []struct {
		occupied bool
		want     string
	}{
		{true, "ON"},
		{false, "OFF"},
	}
	for _, tt := range tests {
		req := BuildRoomState(1, tt.occupied)
		if string(req.Payload) != tt.want {
			t.Errorf("BuildRoomState(%v) = %q, want %q", tt.occupied, req.Payload, tt.want)
		}
		if !req.Retain {
			t.Error("state must be retained")
		}
	}
}

func TestSafeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Living Room", "living_room"},
		{"Büro", "b_ro"},
		{"  kitchen  ", "kitchen"},
		{"", "unknown"},
		{"UPPER", "upper"},
	}
	for _, tt := range tests {
		if got := safeID(tt.in); got != tt.want {
			t.Errorf("safeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
