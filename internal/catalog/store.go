package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/roomsense/pkg/models"
)

// Sentinel errors surfaced by the catalog store.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrIntegrity indicates a uniqueness violation (duplicate name or uuid).
	ErrIntegrity = errors.New("catalog: integrity violation")
)

// SignalFilter narrows ListSignals. Zero-valued fields are ignored.
type SignalFilter struct {
	DeviceID          int64
	RoomID            int64
	LearningSessionID int64
}

// TrainingHeartbeat is a generated dense heartbeat row persisted for the
// trainer. Signals maps scanner id to a filtered RSSI value.
type TrainingHeartbeat struct {
	ID                int64
	LearningSessionID int64
	DeviceID          int64
	RoomID            int64
	Signals           map[int64]float64
	CreatedAt         time.Time
}

// catalogStore provides database access for the catalog module.
type catalogStore struct {
	db *sql.DB
}

func newCatalogStore(db *sql.DB) *catalogStore {
	return &catalogStore{db: db}
}

// wrapIntegrity maps SQLite uniqueness violations onto ErrIntegrity.
func wrapIntegrity(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", op, ErrIntegrity)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// -- Devices --

func (s *catalogStore) InsertDevice(ctx context.Context, d *models.Device) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (name, uuid, use_name_as_id, display_name, prediction_model_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.Name, d.UUID, boolToInt(d.UseNameAsID), d.DisplayName, d.PredictionModelID, now, now,
	)
	if err != nil {
		return wrapIntegrity("insert device", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert device id: %w", err)
	}
	d.ID = id
	d.CreatedAt = now
	d.UpdatedAt = now
	return nil
}

func (s *catalogStore) GetDevice(ctx context.Context, id int64) (*models.Device, error) {
	return s.scanDevice(s.db.QueryRowContext(ctx, deviceColumns+` WHERE id = ?`, id))
}

// GetDeviceByIdentifier looks a device up by its normalized key: the uuid, or
// the name for use_name_as_id devices, lowercased with colons stripped.
func (s *catalogStore) GetDeviceByIdentifier(ctx context.Context, key string) (*models.Device, error) {
	return s.scanDevice(s.db.QueryRowContext(ctx,
		deviceColumns+` WHERE replace(lower(uuid), ':', '') = ?
		   OR (use_name_as_id = 1 AND replace(lower(name), ':', '') = ?)`, key, key))
}

const deviceColumns = `
	SELECT id, name, uuid, use_name_as_id, display_name, prediction_model_id,
	       latest_signal_at, created_at, updated_at
	FROM devices`

func (s *catalogStore) scanDevice(row *sql.Row) (*models.Device, error) {
	var d models.Device
	var useName int
	err := row.Scan(&d.ID, &d.Name, &d.UUID, &useName, &d.DisplayName,
		&d.PredictionModelID, &d.LatestSignalAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	d.UseNameAsID = useName != 0
	return &d, nil
}

func (s *catalogStore) ListDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := s.db.QueryContext(ctx, deviceColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		var useName int
		if err := rows.Scan(&d.ID, &d.Name, &d.UUID, &useName, &d.DisplayName,
			&d.PredictionModelID, &d.LatestSignalAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		d.UseNameAsID = useName != 0
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *catalogStore) DeleteDevice(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDeviceModel attaches a trained prediction model to a device.
func (s *catalogStore) SetDeviceModel(ctx context.Context, deviceID, modelID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET prediction_model_id = ?, updated_at = ? WHERE id = ?`,
		modelID, time.Now().UTC(), deviceID,
	)
	if err != nil {
		return fmt.Errorf("set device model: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchDeviceSignal records when the device was last observed.
func (s *catalogStore) TouchDeviceSignal(ctx context.Context, deviceID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE devices SET latest_signal_at = ? WHERE id = ?`, at.UTC(), deviceID)
	if err != nil {
		return fmt.Errorf("touch device signal: %w", err)
	}
	return nil
}

// -- Rooms --

func (s *catalogStore) InsertRoom(ctx context.Context, r *models.Room) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (name, created_at, updated_at) VALUES (?, ?, ?)`,
		r.Name, now, now,
	)
	if err != nil {
		return wrapIntegrity("insert room", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert room id: %w", err)
	}
	r.ID = id
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

func (s *catalogStore) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	var r models.Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM rooms WHERE id = ?`, id,
	).Scan(&r.ID, &r.Name, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return &r, nil
}

func (s *catalogStore) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM rooms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var r models.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan room row: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

func (s *catalogStore) DeleteRoom(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Scanners --

func (s *catalogStore) InsertScanner(ctx context.Context, sc *models.Scanner) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scanners (uuid, display_name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sc.UUID, sc.DisplayName, now, now,
	)
	if err != nil {
		return wrapIntegrity("insert scanner", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert scanner id: %w", err)
	}
	sc.ID = id
	sc.CreatedAt = now
	sc.UpdatedAt = now
	return nil
}

func (s *catalogStore) GetScannerByUUID(ctx context.Context, uuid string) (*models.Scanner, error) {
	var sc models.Scanner
	err := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, display_name, latest_signal_at, created_at, updated_at
		FROM scanners WHERE uuid = ?`, uuid,
	).Scan(&sc.ID, &sc.UUID, &sc.DisplayName, &sc.LatestSignalAt, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get scanner by uuid: %w", err)
	}
	return &sc, nil
}

func (s *catalogStore) GetScannerByID(ctx context.Context, id int64) (*models.Scanner, error) {
	var sc models.Scanner
	err := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, display_name, latest_signal_at, created_at, updated_at
		FROM scanners WHERE id = ?`, id,
	).Scan(&sc.ID, &sc.UUID, &sc.DisplayName, &sc.LatestSignalAt, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get scanner: %w", err)
	}
	return &sc, nil
}

func (s *catalogStore) ListScanners(ctx context.Context) ([]models.Scanner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uuid, display_name, latest_signal_at, created_at, updated_at
		FROM scanners ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list scanners: %w", err)
	}
	defer rows.Close()

	var scanners []models.Scanner
	for rows.Next() {
		var sc models.Scanner
		if err := rows.Scan(&sc.ID, &sc.UUID, &sc.DisplayName, &sc.LatestSignalAt,
			&sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan scanner row: %w", err)
		}
		scanners = append(scanners, sc)
	}
	return scanners, rows.Err()
}

func (s *catalogStore) DeleteScanner(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scanners WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete scanner: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Prediction models --

func (s *catalogStore) InsertPredictionModel(ctx context.Context, m *models.PredictionModel) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO prediction_models (display_name, accuracy, inputs_hash, model, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.DisplayName, m.Accuracy, m.InputsHash, m.Model, now,
	)
	if err != nil {
		return fmt.Errorf("insert prediction model: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert prediction model id: %w", err)
	}
	m.ID = id
	m.CreatedAt = now
	return nil
}

// GetPredictionModel returns the model attached to a device.
// ErrNotFound when the device has no model.
func (s *catalogStore) GetPredictionModel(ctx context.Context, deviceID int64) (*models.PredictionModel, error) {
	var m models.PredictionModel
	err := s.db.QueryRowContext(ctx, `
		SELECT pm.id, pm.display_name, pm.accuracy, pm.inputs_hash, pm.model, pm.created_at
		FROM prediction_models pm
		JOIN devices d ON d.prediction_model_id = pm.id
		WHERE d.id = ?`, deviceID,
	).Scan(&m.ID, &m.DisplayName, &m.Accuracy, &m.InputsHash, &m.Model, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get prediction model: %w", err)
	}
	return &m, nil
}

// -- Learning sessions & signals --

func (s *catalogStore) InsertLearningSession(ctx context.Context, ls *models.LearningSession) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO learning_sessions (device_id, room_id, created_at) VALUES (?, ?, ?)`,
		ls.DeviceID, ls.RoomID, now,
	)
	if err != nil {
		return fmt.Errorf("insert learning session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert learning session id: %w", err)
	}
	ls.ID = id
	ls.CreatedAt = now
	return nil
}

// InsertSignal persists a labelled signal. A caller-provided CreatedAt is
// kept as is (the scan's observation time); zero means now.
func (s *catalogStore) InsertSignal(ctx context.Context, sig *models.DeviceSignal) error {
	now := time.Now().UTC()
	created := sig.CreatedAt.UTC()
	if sig.CreatedAt.IsZero() {
		created = now
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO device_signals (learning_session_id, device_id, room_id, scanner_id, rssi, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sig.LearningSessionID, sig.DeviceID, sig.RoomID, sig.ScannerID, sig.RSSI, created, now,
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert signal id: %w", err)
	}
	sig.ID = id
	sig.CreatedAt = created
	sig.UpdatedAt = now
	return nil
}

func (s *catalogStore) ListSignals(ctx context.Context, f SignalFilter) ([]models.DeviceSignal, error) {
	query := `
		SELECT id, learning_session_id, device_id, room_id, scanner_id, rssi, created_at, updated_at
		FROM device_signals WHERE 1=1`
	var args []any
	if f.DeviceID != 0 {
		query += ` AND device_id = ?`
		args = append(args, f.DeviceID)
	}
	if f.RoomID != 0 {
		query += ` AND room_id = ?`
		args = append(args, f.RoomID)
	}
	if f.LearningSessionID != 0 {
		query += ` AND learning_session_id = ?`
		args = append(args, f.LearningSessionID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var signals []models.DeviceSignal
	for rows.Next() {
		var sig models.DeviceSignal
		if err := rows.Scan(&sig.ID, &sig.LearningSessionID, &sig.DeviceID, &sig.RoomID,
			&sig.ScannerID, &sig.RSSI, &sig.CreatedAt, &sig.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan signal row: %w", err)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// -- Generated heartbeats --

// BulkInsertHeartbeats persists generated training heartbeats in one transaction.
func (s *catalogStore) BulkInsertHeartbeats(ctx context.Context, tx *sql.Tx, beats []TrainingHeartbeat) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO learn_heartbeats (learning_session_id, device_id, room_id, signals, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare heartbeat insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range beats {
		b := &beats[i]
		encoded, err := json.Marshal(b.Signals)
		if err != nil {
			return fmt.Errorf("encode heartbeat signals: %w", err)
		}
		res, err := stmt.ExecContext(ctx, b.LearningSessionID, b.DeviceID, b.RoomID, string(encoded), now)
		if err != nil {
			return fmt.Errorf("insert heartbeat: %w", err)
		}
		if b.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("insert heartbeat id: %w", err)
		}
		b.CreatedAt = now
	}
	return nil
}

// ListHeartbeats returns all generated heartbeats for a device in insert order.
func (s *catalogStore) ListHeartbeats(ctx context.Context, deviceID int64) ([]TrainingHeartbeat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, learning_session_id, device_id, room_id, signals, created_at
		FROM learn_heartbeats WHERE device_id = ? ORDER BY id`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	defer rows.Close()

	var beats []TrainingHeartbeat
	for rows.Next() {
		var b TrainingHeartbeat
		var encoded string
		if err := rows.Scan(&b.ID, &b.LearningSessionID, &b.DeviceID, &b.RoomID,
			&encoded, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan heartbeat row: %w", err)
		}
		if err := json.Unmarshal([]byte(encoded), &b.Signals); err != nil {
			return nil, fmt.Errorf("decode heartbeat signals: %w", err)
		}
		beats = append(beats, b)
	}
	return beats, rows.Err()
}

// DeleteHeartbeatsForDevice clears a device's generated heartbeats before a
// fresh training run regenerates them.
func (s *catalogStore) DeleteHeartbeatsForDevice(ctx context.Context, tx *sql.Tx, deviceID int64) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM learn_heartbeats WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("delete heartbeats: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
