package mqtt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/HerbHall/roomsense/pkg/models"
)

// nonAlphanumeric matches any character that is not alphanumeric or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9_]`)

// BinarySensorConfig is the Home Assistant discovery payload for a room
// occupancy binary_sensor.
type BinarySensorConfig struct {
	Name        string `json:"name"`
	DeviceClass string `json:"device_class"`
	StateTopic  string `json:"state_topic"`
	UniqueID    string `json:"unique_id"`
}

// RoomConfigTopic returns the retained discovery config topic for a room.
func RoomConfigTopic(roomID int64) string {
	return roomBaseTopic(roomID) + "/config"
}

// RoomStateTopic returns the retained ON/OFF state topic for a room.
func RoomStateTopic(roomID int64) string {
	return roomBaseTopic(roomID) + "/state"
}

func roomBaseTopic(roomID int64) string {
	return fmt.Sprintf("homeassistant/binary_sensor/room_%d_occupancy/config", roomID)
}

// safeID lowercases a name and collapses everything non-alphanumeric to
// underscores, for use inside a Home Assistant unique_id.
func safeID(s string) string {
	s = strings.ToLower(s)
	s = nonAlphanumeric.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}

// BuildRoomDiscovery returns the retained discovery request announcing a
// room's occupancy sensor to Home Assistant.
func BuildRoomDiscovery(room models.Room) (PublishRequest, error) {
	cfg := BinarySensorConfig{
		Name:        room.Name + " Room Occupancy",
		DeviceClass: "occupancy",
		StateTopic:  RoomStateTopic(room.ID),
		UniqueID:    fmt.Sprintf("room_occupancy.%d.%s", room.ID, safeID(room.Name)),
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return PublishRequest{}, fmt.Errorf("marshal discovery config: %w", err)
	}
	return PublishRequest{Topic: RoomConfigTopic(room.ID), Payload: payload, Retain: true}, nil
}

// BuildRoomRemoval returns the empty retained payload that deletes a removed
// room's sensor from Home Assistant.
func BuildRoomRemoval(roomID int64) PublishRequest {
	return PublishRequest{Topic: RoomConfigTopic(roomID), Payload: nil, Retain: true}
}

// BuildRoomState returns the retained ON/OFF state publication for a room.
func BuildRoomState(roomID int64, occupied bool) PublishRequest {
	state := "OFF"
	if occupied {
		state = "ON"
	}
	return PublishRequest{Topic: RoomStateTopic(roomID), Payload: []byte(state), Retain: true}
}
