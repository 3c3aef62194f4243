// Package catalog is the repository module: it owns the SQLite schema for
// devices, rooms, scanners, prediction models, learning sessions, and
// recorded signals, and announces catalog changes on the event bus.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/roomsense/pkg/models"
	"github.com/HerbHall/roomsense/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
	_ Repository           = (*Module)(nil)
)

// Repository is the contract the other modules depend on. Resolve the
// "catalog" module via plugin.PluginResolver and assert to this interface.
type Repository interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	ListRooms(ctx context.Context) ([]models.Room, error)
	ListScanners(ctx context.Context) ([]models.Scanner, error)
	GetDevice(ctx context.Context, id int64) (*models.Device, error)
	GetDeviceByIdentifier(ctx context.Context, key string) (*models.Device, error)
	GetScannerByUUID(ctx context.Context, uuid string) (*models.Scanner, error)
	GetPredictionModel(ctx context.Context, deviceID int64) (*models.PredictionModel, error)
	CreateSignal(ctx context.Context, sig *models.DeviceSignal) error
	CreateLearningSession(ctx context.Context, ls *models.LearningSession) error
	BulkCreateHeartbeats(ctx context.Context, beats []TrainingHeartbeat) error
	ListSignals(ctx context.Context, f SignalFilter) ([]models.DeviceSignal, error)
	ListHeartbeats(ctx context.Context, deviceID int64) ([]TrainingHeartbeat, error)
	SavePredictionModel(ctx context.Context, deviceID int64, m *models.PredictionModel) error

	CreateDevice(ctx context.Context, d *models.Device) error
	DeleteDevice(ctx context.Context, id int64) error
	CreateRoom(ctx context.Context, r *models.Room) error
	DeleteRoom(ctx context.Context, id int64) error
	CreateScanner(ctx context.Context, sc *models.Scanner) error
	DeleteScanner(ctx context.Context, id int64) error
}

// Module implements the catalog repository plugin.
type Module struct {
	logger *zap.Logger
	bus    plugin.EventBus
	store  *catalogStore
	sqls   plugin.Store

	// Memoised room/scanner lists. Cleared on any room or scanner mutation.
	cacheMu       sync.Mutex
	roomsCache    []models.Room
	scannersCache []models.Scanner
}

// New creates the catalog module.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "catalog",
		Version:     "0.1.0",
		Description: "Device, room, scanner, and model repository",
		Required:    true,
		Roles:       []string{"repository"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus
	m.sqls = deps.Store

	if err := deps.Store.Migrate(ctx, "catalog", migrations()); err != nil {
		return fmt.Errorf("catalog migrations: %w", err)
	}
	m.store = newCatalogStore(deps.Store.DB())

	m.logger.Info("catalog module initialized")
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	return nil
}

// Health implements plugin.HealthChecker by pinging the database.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	if err := m.store.db.PingContext(ctx); err != nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: err.Error()}
	}
	return plugin.HealthStatus{Status: "healthy"}
}

// Replay re-announces every stored device and room on the bus so trackers
// and sensors rebuild their state after a restart. Call once at startup,
// after all modules have started.
func (m *Module) Replay(ctx context.Context) error {
	devices, err := m.store.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("replay devices: %w", err)
	}
	rooms, err := m.store.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("replay rooms: %w", err)
	}

	for i := range devices {
		m.emit(ctx, TopicDeviceAdded, devices[i])
	}
	for i := range rooms {
		m.emit(ctx, TopicRoomAdded, rooms[i])
	}

	m.logger.Info("catalog replay complete",
		zap.Int("devices", len(devices)),
		zap.Int("rooms", len(rooms)),
	)
	return nil
}

// -- Reads --

func (m *Module) ListDevices(ctx context.Context) ([]models.Device, error) {
	return m.store.ListDevices(ctx)
}

// ListRooms returns all rooms, memoised until the next room mutation.
func (m *Module) ListRooms(ctx context.Context) ([]models.Room, error) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if m.roomsCache != nil {
		return m.roomsCache, nil
	}
	rooms, err := m.store.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	if rooms == nil {
		rooms = []models.Room{}
	}
	m.roomsCache = rooms
	return rooms, nil
}

// ListScanners returns all scanners, memoised until the next scanner mutation.
func (m *Module) ListScanners(ctx context.Context) ([]models.Scanner, error) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if m.scannersCache != nil {
		return m.scannersCache, nil
	}
	scanners, err := m.store.ListScanners(ctx)
	if err != nil {
		return nil, err
	}
	if scanners == nil {
		scanners = []models.Scanner{}
	}
	m.scannersCache = scanners
	return scanners, nil
}

func (m *Module) GetDevice(ctx context.Context, id int64) (*models.Device, error) {
	return m.store.GetDevice(ctx, id)
}

func (m *Module) GetDeviceByIdentifier(ctx context.Context, key string) (*models.Device, error) {
	return m.store.GetDeviceByIdentifier(ctx, key)
}

func (m *Module) GetScannerByUUID(ctx context.Context, uuid string) (*models.Scanner, error) {
	return m.store.GetScannerByUUID(ctx, uuid)
}

func (m *Module) GetPredictionModel(ctx context.Context, deviceID int64) (*models.PredictionModel, error) {
	return m.store.GetPredictionModel(ctx, deviceID)
}

func (m *Module) ListSignals(ctx context.Context, f SignalFilter) ([]models.DeviceSignal, error) {
	return m.store.ListSignals(ctx, f)
}

func (m *Module) ListHeartbeats(ctx context.Context, deviceID int64) ([]TrainingHeartbeat, error) {
	return m.store.ListHeartbeats(ctx, deviceID)
}

// -- Writes --

func (m *Module) CreateSignal(ctx context.Context, sig *models.DeviceSignal) error {
	if err := m.store.InsertSignal(ctx, sig); err != nil {
		return err
	}
	return m.store.TouchDeviceSignal(ctx, sig.DeviceID, sig.CreatedAt)
}

func (m *Module) CreateLearningSession(ctx context.Context, ls *models.LearningSession) error {
	return m.store.InsertLearningSession(ctx, ls)
}

// BulkCreateHeartbeats replaces a device's generated training heartbeats.
// All rows in beats must share the same device id.
func (m *Module) BulkCreateHeartbeats(ctx context.Context, beats []TrainingHeartbeat) error {
	if len(beats) == 0 {
		return nil
	}
	deviceID := beats[0].DeviceID
	return m.sqls.Tx(ctx, func(tx *sql.Tx) error {
		if err := m.store.DeleteHeartbeatsForDevice(ctx, tx, deviceID); err != nil {
			return err
		}
		return m.store.BulkInsertHeartbeats(ctx, tx, beats)
	})
}

// SavePredictionModel persists a trained model and attaches it to the device.
func (m *Module) SavePredictionModel(ctx context.Context, deviceID int64, pm *models.PredictionModel) error {
	if err := m.store.InsertPredictionModel(ctx, pm); err != nil {
		return err
	}
	return m.store.SetDeviceModel(ctx, deviceID, pm.ID)
}

func (m *Module) CreateDevice(ctx context.Context, d *models.Device) error {
	if err := m.store.InsertDevice(ctx, d); err != nil {
		return err
	}
	m.emit(ctx, TopicDeviceAdded, *d)
	return nil
}

func (m *Module) DeleteDevice(ctx context.Context, id int64) error {
	d, err := m.store.GetDevice(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteDevice(ctx, id); err != nil {
		return err
	}
	m.emit(ctx, TopicDeviceRemoved, *d)
	return nil
}

func (m *Module) CreateRoom(ctx context.Context, r *models.Room) error {
	if err := m.store.InsertRoom(ctx, r); err != nil {
		return err
	}
	m.invalidateCache()
	m.emit(ctx, TopicRoomAdded, *r)
	return nil
}

func (m *Module) DeleteRoom(ctx context.Context, id int64) error {
	r, err := m.store.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteRoom(ctx, id); err != nil {
		return err
	}
	m.invalidateCache()
	m.emit(ctx, TopicRoomRemoved, *r)
	return nil
}

func (m *Module) CreateScanner(ctx context.Context, sc *models.Scanner) error {
	if err := m.store.InsertScanner(ctx, sc); err != nil {
		return err
	}
	m.invalidateCache()
	m.emit(ctx, TopicScannerAdded, *sc)
	return nil
}

func (m *Module) DeleteScanner(ctx context.Context, id int64) error {
	sc, err := m.store.GetScannerByID(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteScanner(ctx, id); err != nil {
		return err
	}
	m.invalidateCache()
	m.emit(ctx, TopicScannerRemoved, *sc)
	return nil
}

func (m *Module) invalidateCache() {
	m.cacheMu.Lock()
	m.roomsCache = nil
	m.scannersCache = nil
	m.cacheMu.Unlock()
}

// emit publishes a catalog change synchronously so subscribers observe
// mutations in order.
func (m *Module) emit(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, plugin.Event{
		Topic:     topic,
		Source:    "catalog",
		Timestamp: time.Now(),
		Payload:   payload,
	}); err != nil {
		m.logger.Error("failed to publish catalog event",
			zap.String("topic", topic), zap.Error(err))
	}
}
