package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/HerbHall/roomsense/pkg/plugin"
	"go.uber.org/zap"
)

// mockPluginSource satisfies the PluginSource interface for testing.
type mockPluginSource struct {
	plugins []plugin.Plugin
}

func (m *mockPluginSource) All() []plugin.Plugin {
	return m.plugins
}

// stubPlugin satisfies plugin.Plugin for testing.
type stubPlugin struct {
	info   plugin.PluginInfo
	health *plugin.HealthStatus
}

func (s *stubPlugin) Info() plugin.PluginInfo                             { return s.info }
func (s *stubPlugin) Init(_ context.Context, _ plugin.Dependencies) error { return nil }
func (s *stubPlugin) Start(_ context.Context) error                       { return nil }
func (s *stubPlugin) Stop(_ context.Context) error                        { return nil }

func (s *stubPlugin) Health(_ context.Context) plugin.HealthStatus {
	if s.health != nil {
		return *s.health
	}
	return plugin.HealthStatus{Status: "healthy"}
}

func newTestServer(ready ReadinessChecker) *Server {
	logger := zap.NewNop()
	plugins := &mockPluginSource{
		plugins: []plugin.Plugin{
			&stubPlugin{info: plugin.PluginInfo{
				Name:        "catalog",
				Version:     "0.1.0",
				Description: "Device, room, and scanner repository",
			}},
		},
	}
	return New("127.0.0.1:0", plugins, logger, ready)
}

func TestHandleHealthz(t *testing.T) {
	srv := newTestServer(nil)

	req := httptest.NewRequest("GET", "/healthz", http.NoBody)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "alive" {
		t.Errorf("status = %q, want %q", body["status"], "alive")
	}
}

func TestHandleReadyz_Healthy(t *testing.T) {
	ready := ReadinessChecker(func(_ context.Context) error {
		return nil
	})
	srv := newTestServer(ready)

	req := httptest.NewRequest("GET", "/readyz", http.NoBody)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHandleReadyz_Unhealthy(t *testing.T) {
	ready := ReadinessChecker(func(_ context.Context) error {
		return errors.New("database unreachable")
	})
	srv := newTestServer(ready)

	req := httptest.NewRequest("GET", "/readyz", http.NoBody)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if !strings.Contains(body["error"], "database unreachable") {
		t.Errorf("error = %q, want it to contain %q", body["error"], "database unreachable")
	}
}

func TestHandleHealth_ModuleReports(t *testing.T) {
	logger := zap.NewNop()
	plugins := &mockPluginSource{
		plugins: []plugin.Plugin{
			&stubPlugin{info: plugin.PluginInfo{Name: "catalog"}},
			&stubPlugin{
				info:   plugin.PluginInfo{Name: "mqtt"},
				health: &plugin.HealthStatus{Status: "unhealthy", Message: "broker down"},
			},
		},
	}
	srv := New("127.0.0.1:0", plugins, logger, nil)

	req := httptest.NewRequest("GET", "/api/v1/health", http.NoBody)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body HealthResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.Service != "roomsense" {
		t.Errorf("service = %q, want %q", body.Service, "roomsense")
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded with an unhealthy module", body.Status)
	}
	if body.Modules["mqtt"].Message != "broker down" {
		t.Errorf("mqtt health = %+v", body.Modules["mqtt"])
	}
}

func TestHandleModules(t *testing.T) {
	srv := newTestServer(nil)

	req := httptest.NewRequest("GET", "/api/v1/modules", http.NoBody)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var modules []map[string]string
	json.NewDecoder(w.Body).Decode(&modules)
	if len(modules) != 1 {
		t.Fatalf("len(modules) = %d, want 1", len(modules))
	}
	if modules[0]["name"] != "catalog" {
		t.Errorf("name = %q, want %q", modules[0]["name"], "catalog")
	}
}

func TestHandleMetrics(t *testing.T) {
	srv := newTestServer(nil)

	req := httptest.NewRequest("GET", "/metrics", http.NoBody)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	if !strings.Contains(body, "go_goroutines") {
		t.Error("expected prometheus Go runtime metrics in /metrics output")
	}
}

func TestMiddlewareChain_Integration(t *testing.T) {
	srv := newTestServer(nil)

	req := httptest.NewRequest("GET", "/healthz", http.NoBody)
	w := httptest.NewRecorder()

	// Use the full handler (with middleware chain) instead of just the mux.
	srv.httpServer.Handler.ServeHTTP(w, req)

	if v := w.Header().Get("X-RoomSense-Version"); v == "" {
		t.Error("expected X-RoomSense-Version header from middleware")
	}
	if v := w.Header().Get("X-Request-ID"); v == "" {
		t.Error("expected X-Request-ID header from middleware")
	}
	if v := w.Header().Get("X-Content-Type-Options"); v != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", v, "nosniff")
	}
}

type stubRegistrar struct{ hits *int }

func (s stubRegistrar) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/events", func(w http.ResponseWriter, _ *http.Request) {
		*s.hits++
		w.WriteHeader(http.StatusOK)
	})
}

func TestExtraRoutes_Mounted(t *testing.T) {
	hits := 0
	srv := New("127.0.0.1:0", &mockPluginSource{}, zap.NewNop(), nil, stubRegistrar{hits: &hits})

	req := httptest.NewRequest("GET", "/api/v1/ws/events", http.NoBody)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK || hits != 1 {
		t.Fatalf("status = %d hits = %d", w.Code, hits)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	v, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := v.GetInt("server.port"); got != 8080 {
		t.Errorf("server.port = %d, want 8080", got)
	}
	if got := v.GetInt("plugins.mqtt.broker_port"); got != 1883 {
		t.Errorf("mqtt broker_port = %d, want 1883", got)
	}
	if got := v.GetString("plugins.heartbeat.period"); got != "500ms" {
		t.Errorf("heartbeat period = %q, want 500ms", got)
	}
	if got := v.GetInt("plugins.sensor.change_state_beats"); got != 3 {
		t.Errorf("change_state_beats = %d, want 3", got)
	}
}
