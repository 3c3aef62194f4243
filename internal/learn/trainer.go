package learn

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/HerbHall/roomsense/internal/catalog"
	"github.com/HerbHall/roomsense/internal/heartbeat"
	"github.com/HerbHall/roomsense/pkg/models"
)

// trainer rebuilds a device's prediction model from its recorded signals.
type trainer struct {
	repo catalog.Repository
	cfg  Config
}

// train runs the full pipeline: regenerate smoothed heartbeats from the raw
// labelled signals, fit a nearest-centroid estimator, score it, and persist
// the model with the current inputs hash.
func (t *trainer) train(ctx context.Context, deviceID int64) (*models.PredictionModel, error) {
	device, err := t.repo.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	signals, err := t.repo.ListSignals(ctx, catalog.SignalFilter{DeviceID: deviceID})
	if err != nil {
		return nil, fmt.Errorf("load signals: %w", err)
	}
	if len(signals) == 0 {
		return nil, fmt.Errorf("no recorded signals for device %d", deviceID)
	}

	beats := generateHeartbeats(signals, t.cfg.KalmanQ, t.cfg.KalmanR)
	if err := t.repo.BulkCreateHeartbeats(ctx, beats); err != nil {
		return nil, fmt.Errorf("persist generated heartbeats: %w", err)
	}

	scanners, err := t.repo.ListScanners(ctx)
	if err != nil {
		return nil, fmt.Errorf("load scanners: %w", err)
	}
	rooms, err := t.repo.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}

	estimator, accuracy, err := fit(beats, scanners)
	if err != nil {
		return nil, err
	}

	blob, err := estimator.Marshal()
	if err != nil {
		return nil, fmt.Errorf("serialize model: %w", err)
	}

	pm := &models.PredictionModel{
		DisplayName: fmt.Sprintf("%s %s", device.Name, time.Now().Format("2006-01-02 15:04")),
		Accuracy:    accuracy,
		InputsHash:  models.InputsHash(rooms, scanners),
		Model:       blob,
	}
	if err := t.repo.SavePredictionModel(ctx, deviceID, pm); err != nil {
		return nil, fmt.Errorf("persist model: %w", err)
	}
	return pm, nil
}

// generateHeartbeats replays each session's signals through per-scanner
// Kalman filters and pivots them into dense labelled rows: one row per
// signal, carrying the current smoothed value of every scanner seen so far
// in that session.
func generateHeartbeats(signals []models.DeviceSignal, q, r float64) []catalog.TrainingHeartbeat {
	bySession := make(map[int64][]models.DeviceSignal)
	var order []int64
	for _, sig := range signals {
		if sig.LearningSessionID == nil {
			continue
		}
		id := *sig.LearningSessionID
		if _, seen := bySession[id]; !seen {
			order = append(order, id)
		}
		bySession[id] = append(bySession[id], sig)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var beats []catalog.TrainingHeartbeat
	for _, sessionID := range order {
		filters := make(map[int64]*heartbeat.RSSIFilter)
		values := make(map[int64]float64)
		for _, sig := range bySession[sessionID] {
			f, ok := filters[sig.ScannerID]
			if !ok {
				f = heartbeat.NewRSSIFilter(q, r)
				filters[sig.ScannerID] = f
			}
			values[sig.ScannerID] = f.Filter(sig.RSSI)

			snapshot := make(map[int64]float64, len(values))
			for k, v := range values {
				snapshot[k] = v
			}
			beats = append(beats, catalog.TrainingHeartbeat{
				LearningSessionID: sessionID,
				DeviceID:          sig.DeviceID,
				RoomID:            sig.RoomID,
				Signals:           snapshot,
			})
		}
	}
	return beats
}

// fit computes per-room centroids over the dense feature rows and scores the
// estimator on its own training set.
func fit(beats []catalog.TrainingHeartbeat, scanners []models.Scanner) (*NearestCentroid, float64, error) {
	if len(beats) == 0 {
		return nil, 0, fmt.Errorf("no training rows")
	}
	if len(scanners) == 0 {
		return nil, 0, fmt.Errorf("no scanners registered")
	}

	scannerIDs := make([]int64, len(scanners))
	for i, sc := range scanners {
		scannerIDs[i] = sc.ID
	}
	sort.Slice(scannerIDs, func(i, j int) bool { return scannerIDs[i] < scannerIDs[j] })

	// Sum feature rows per room.
	sums := make(map[int64][]float64)
	counts := make(map[int64]int)
	rows := make([][]float64, len(beats))
	for i, b := range beats {
		row := featureRow(b.Signals, scannerIDs)
		rows[i] = row
		if sums[b.RoomID] == nil {
			sums[b.RoomID] = make([]float64, len(scannerIDs))
		}
		for j, v := range row {
			sums[b.RoomID][j] += v
		}
		counts[b.RoomID]++
	}

	roomIDs := make([]int64, 0, len(sums))
	for roomID := range sums {
		roomIDs = append(roomIDs, roomID)
	}
	sort.Slice(roomIDs, func(i, j int) bool { return roomIDs[i] < roomIDs[j] })

	centroids := make([][]float64, len(roomIDs))
	for i, roomID := range roomIDs {
		centroid := make([]float64, len(scannerIDs))
		for j, s := range sums[roomID] {
			centroid[j] = s / float64(counts[roomID])
		}
		centroids[i] = centroid
	}

	nc := &NearestCentroid{
		Kind:       estimatorKind,
		ScannerIDs: scannerIDs,
		RoomIDs:    roomIDs,
		Centroids:  centroids,
	}

	correct := 0
	for i, b := range beats {
		pred, err := nc.Predict(rows[i])
		if err != nil {
			return nil, 0, err
		}
		for _, occ := range pred {
			if occ.State && occ.RoomID == b.RoomID {
				correct++
				break
			}
		}
	}
	return nc, float64(correct) / float64(len(beats)), nil
}

// featureRow builds the dense row for one heartbeat: scanner id order,
// missing scanners at the floor.
func featureRow(signals map[int64]float64, scannerIDs []int64) []float64 {
	row := make([]float64, len(scannerIDs))
	for i, id := range scannerIDs {
		if v, ok := signals[id]; ok {
			row[i] = v
		} else {
			row[i] = -100
		}
	}
	return row
}
