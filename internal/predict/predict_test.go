package predict

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/roomsense/internal/catalog"
	"github.com/HerbHall/roomsense/internal/event"
	"github.com/HerbHall/roomsense/internal/learn"
	"github.com/HerbHall/roomsense/internal/store"
	"github.com/HerbHall/roomsense/pkg/models"
	"github.com/HerbHall/roomsense/pkg/plugin"
	"go.uber.org/zap"
)

type fakeResolver struct {
	plugins map[string]plugin.Plugin
}

func (f *fakeResolver) Resolve(name string) (plugin.Plugin, bool) {
	p, ok := f.plugins[name]
	return p, ok
}

func (f *fakeResolver) ResolveByRole(role string) []plugin.Plugin { return nil }

type testEnv struct {
	predict *Module
	repo    *catalog.Module
	bus     *event.Bus

	mu       sync.Mutex
	occupied []OccupancyEvent
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	bus := event.NewBus(zap.NewNop())
	ctx := context.Background()

	repo := catalog.New()
	if err := repo.Init(ctx, plugin.Dependencies{
		Logger: zap.NewNop(), Store: s, Bus: bus,
	}); err != nil {
		t.Fatalf("catalog Init: %v", err)
	}

	m := New()
	deps := plugin.Dependencies{
		Logger:  zap.NewNop(),
		Bus:     bus,
		Plugins: &fakeResolver{plugins: map[string]plugin.Plugin{"catalog": repo}},
	}
	if err := m.Init(ctx, deps); err != nil {
		t.Fatalf("predict Init: %v", err)
	}
	for _, sub := range m.Subscriptions() {
		bus.Subscribe(sub.Topic, sub.Handler)
	}

	env := &testEnv{predict: m, repo: repo, bus: bus}
	bus.Subscribe(TopicOccupancy, func(ctx context.Context, e plugin.Event) {
		env.mu.Lock()
		env.occupied = append(env.occupied, e.Payload.(OccupancyEvent))
		env.mu.Unlock()
	})
	return env
}

// seed registers a device, two rooms, and two scanners through the catalog.
// The create events wire the predict module the same way production does.
func (env *testEnv) seed(t *testing.T) (models.Device, []models.Room, []models.Scanner) {
	t.Helper()
	ctx := context.Background()
	d := models.Device{Name: "phone", UUID: "aabbcc"}
	if err := env.repo.CreateDevice(ctx, &d); err != nil {
		t.Fatal(err)
	}
	rooms := []models.Room{{Name: "office"}, {Name: "kitchen"}}
	for i := range rooms {
		if err := env.repo.CreateRoom(ctx, &rooms[i]); err != nil {
			t.Fatal(err)
		}
	}
	scanners := []models.Scanner{{UUID: "sc-a"}, {UUID: "sc-b"}}
	for i := range scanners {
		if err := env.repo.CreateScanner(ctx, &scanners[i]); err != nil {
			t.Fatal(err)
		}
	}
	return d, rooms, scanners
}

// trainModel stores an estimator for the device over the current room and
// scanner sets, then announces the training result so the module reloads it.
func (env *testEnv) trainModel(t *testing.T, d models.Device, rooms []models.Room, scanners []models.Scanner) {
	t.Helper()
	ctx := context.Background()

	nc := &learn.NearestCentroid{
		Kind:       "nearest_centroid",
		ScannerIDs: []int64{scanners[0].ID, scanners[1].ID},
		RoomIDs:    []int64{rooms[0].ID, rooms[1].ID},
		Centroids: [][]float64{
			{-50, -90},
			{-90, -50},
		},
	}
	blob, err := nc.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	pm := models.PredictionModel{
		DisplayName: "phone test",
		Accuracy:    1,
		InputsHash:  models.InputsHash(rooms, scanners),
		Model:       blob,
	}
	if err := env.repo.SavePredictionModel(ctx, d.ID, &pm); err != nil {
		t.Fatalf("SavePredictionModel: %v", err)
	}
	env.emit(TopicTrainingProgress, "learn", learn.TrainingProgress{
		DeviceID: d.ID, Accuracy: 1, IsFinal: true,
	})
}

func (env *testEnv) emit(topic, source string, payload any) {
	env.bus.Publish(context.Background(), plugin.Event{
		Topic: topic, Source: source, Timestamp: time.Now(), Payload: payload,
	})
}

func (env *testEnv) beat(deviceID int64, signals map[string]float64) {
	env.emit(TopicBeat, "heartbeat", models.Heartbeat{
		DeviceID: deviceID, Signals: signals, Timestamp: time.Now(),
	})
	env.predict.wg.Wait()
}

func (env *testEnv) events() []OccupancyEvent {
	env.mu.Lock()
	defer env.mu.Unlock()
	out := make([]OccupancyEvent, len(env.occupied))
	copy(out, env.occupied)
	return out
}

func TestPredict_EmitsWinnerRoom(t *testing.T) {
	env := newTestEnv(t)
	d, rooms, scanners := env.seed(t)
	env.trainModel(t, d, rooms, scanners)

	env.beat(d.ID, map[string]float64{"sc-a": -52, "sc-b": -88})

	events := env.events()
	if len(events) != 1 {
		t.Fatalf("occupancy events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.DeviceID != d.ID {
		t.Errorf("device id = %d, want %d", ev.DeviceID, d.ID)
	}
	if len(ev.RoomOccupancy) != 2 {
		t.Fatalf("room entries = %d, want 2", len(ev.RoomOccupancy))
	}
	for _, o := range ev.RoomOccupancy {
		if o.State && o.RoomID != rooms[0].ID {
			t.Errorf("winner = room %d, want %d", o.RoomID, rooms[0].ID)
		}
	}
}

func TestPredict_MissingScannerFilledWithFloor(t *testing.T) {
	env := newTestEnv(t)
	d, rooms, scanners := env.seed(t)
	env.trainModel(t, d, rooms, scanners)

	// Only sc-b observed: sc-a's slot defaults to the floor, so the beat
	// still lands closest to the second room's centroid.
	env.beat(d.ID, map[string]float64{"sc-b": -52})

	events := env.events()
	if len(events) != 1 {
		t.Fatalf("occupancy events = %d, want 1", len(events))
	}
	for _, o := range events[0].RoomOccupancy {
		if o.State && o.RoomID != rooms[1].ID {
			t.Errorf("winner = room %d, want %d", o.RoomID, rooms[1].ID)
		}
	}
}

func TestPredict_NoModelNoEvent(t *testing.T) {
	env := newTestEnv(t)
	d, _, _ := env.seed(t)

	env.beat(d.ID, map[string]float64{"sc-a": -52})

	if events := env.events(); len(events) != 0 {
		t.Errorf("occupancy events without a model = %d, want 0", len(events))
	}
}

func TestPredict_NilSignalsEmitsEmptyOccupancy(t *testing.T) {
	env := newTestEnv(t)
	d, rooms, scanners := env.seed(t)
	env.trainModel(t, d, rooms, scanners)

	env.beat(d.ID, nil)

	events := env.events()
	if len(events) != 1 {
		t.Fatalf("occupancy events = %d, want 1", len(events))
	}
	if ev := events[0]; ev.RoomOccupancy == nil || len(ev.RoomOccupancy) != 0 {
		t.Errorf("occupancy = %v, want empty non-nil list", ev.RoomOccupancy)
	}
}

// Adding a scanner after training invalidates the model: beats are skipped
// until a new training run succeeds.
func TestPredict_StaleModelSkipsInference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d, rooms, scanners := env.seed(t)
	env.trainModel(t, d, rooms, scanners)

	extra := models.Scanner{UUID: "sc-c"}
	if err := env.repo.CreateScanner(ctx, &extra); err != nil {
		t.Fatal(err)
	}

	env.beat(d.ID, map[string]float64{"sc-a": -52, "sc-b": -88})
	env.beat(d.ID, map[string]float64{"sc-a": -52, "sc-b": -88})
	if events := env.events(); len(events) != 0 {
		t.Fatalf("stale model produced %d occupancy events, want 0", len(events))
	}

	// Retraining over the grown scanner set makes predictions flow again.
	all, err := env.repo.ListScanners(ctx)
	if err != nil {
		t.Fatal(err)
	}
	nc := &learn.NearestCentroid{
		Kind:       "nearest_centroid",
		ScannerIDs: []int64{all[0].ID, all[1].ID, all[2].ID},
		RoomIDs:    []int64{rooms[0].ID, rooms[1].ID},
		Centroids: [][]float64{
			{-50, -90, -100},
			{-90, -50, -100},
		},
	}
	blob, err := nc.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	pm := models.PredictionModel{
		DisplayName: "phone retrained",
		Accuracy:    1,
		InputsHash:  models.InputsHash(rooms, all),
		Model:       blob,
	}
	if err := env.repo.SavePredictionModel(ctx, d.ID, &pm); err != nil {
		t.Fatal(err)
	}
	env.emit(TopicTrainingProgress, "learn", learn.TrainingProgress{
		DeviceID: d.ID, Accuracy: 1, IsFinal: true,
	})

	env.beat(d.ID, map[string]float64{"sc-a": -52, "sc-b": -88})
	if events := env.events(); len(events) != 1 {
		t.Errorf("occupancy events after retraining = %d, want 1", len(events))
	}
}

func TestPredict_DeviceRemovalEvictsModel(t *testing.T) {
	env := newTestEnv(t)
	d, rooms, scanners := env.seed(t)
	env.trainModel(t, d, rooms, scanners)

	env.emit(TopicDeviceRemoved, "catalog", models.Device{ID: d.ID})

	env.beat(d.ID, map[string]float64{"sc-a": -52, "sc-b": -88})
	if events := env.events(); len(events) != 0 {
		t.Errorf("occupancy events after removal = %d, want 0", len(events))
	}
}

func TestPredict_FailedTrainingDoesNotReload(t *testing.T) {
	env := newTestEnv(t)
	d, _, _ := env.seed(t)

	env.emit(TopicTrainingProgress, "learn", learn.TrainingProgress{
		DeviceID: d.ID, IsError: true, IsFinal: true,
	})

	env.predict.mu.Lock()
	_, cached := env.predict.models[d.ID]
	env.predict.mu.Unlock()
	if cached {
		t.Error("failed training run must not load a model")
	}
}

func TestFeatureRow(t *testing.T) {
	scanners := []models.Scanner{{ID: 1, UUID: "a"}, {ID: 2, UUID: "b"}, {ID: 3, UUID: "c"}}
	row := featureRow(map[string]float64{"a": -40, "c": -70}, scanners)
	want := []float64{-40, -100, -70}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("row[%d] = %v, want %v", i, row[i], want[i])
		}
	}
}
