package learn

import (
	"encoding/json"
	"fmt"

	"github.com/HerbHall/roomsense/pkg/models"
	"gonum.org/v1/gonum/floats"
)

// estimatorKind tags serialized models so future estimator types can coexist.
const estimatorKind = "nearest_centroid"

// Estimator predicts room occupancy from a dense feature row (one filtered
// RSSI value per scanner, in scanner id order).
type Estimator interface {
	Predict(features []float64) ([]models.RoomOccupancy, error)
}

// NearestCentroid classifies a feature row by distance to per-room centroids.
type NearestCentroid struct {
	Kind       string      `json:"kind"`
	ScannerIDs []int64     `json:"scanner_ids"` // feature column order
	RoomIDs    []int64     `json:"room_ids"`
	Centroids  [][]float64 `json:"centroids"` // one row per room
}

// Predict returns an occupancy entry per trained room. Probability is the
// normalized inverse distance; exactly one room carries state=true.
func (nc *NearestCentroid) Predict(features []float64) ([]models.RoomOccupancy, error) {
	if len(nc.RoomIDs) == 0 {
		return nil, fmt.Errorf("estimator has no rooms")
	}
	if len(features) != len(nc.ScannerIDs) {
		return nil, fmt.Errorf("feature width %d does not match trained width %d",
			len(features), len(nc.ScannerIDs))
	}

	weights := make([]float64, len(nc.RoomIDs))
	best := 0
	bestDist := 0.0
	for i, centroid := range nc.Centroids {
		d := floats.Distance(features, centroid, 2)
		weights[i] = 1 / (d + 1e-9)
		if i == 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	total := floats.Sum(weights)

	result := make([]models.RoomOccupancy, len(nc.RoomIDs))
	for i, roomID := range nc.RoomIDs {
		result[i] = models.RoomOccupancy{
			RoomID:      roomID,
			State:       i == best,
			Probability: weights[i] / total,
		}
	}
	return result, nil
}

// Marshal serializes the estimator for storage in a PredictionModel blob.
func (nc *NearestCentroid) Marshal() ([]byte, error) {
	nc.Kind = estimatorKind
	return json.Marshal(nc)
}

// UnmarshalEstimator restores an estimator from a PredictionModel blob.
func UnmarshalEstimator(blob []byte) (Estimator, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(blob, &probe); err != nil {
		return nil, fmt.Errorf("decode model blob: %w", err)
	}
	if probe.Kind != estimatorKind {
		return nil, fmt.Errorf("unsupported model kind %q", probe.Kind)
	}
	var nc NearestCentroid
	if err := json.Unmarshal(blob, &nc); err != nil {
		return nil, fmt.Errorf("decode nearest-centroid model: %w", err)
	}
	return &nc, nil
}
