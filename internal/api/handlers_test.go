package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/enslite/enslite/internal/auth"
	"github.com/enslite/enslite/internal/bus"
	"github.com/enslite/enslite/internal/hub"
	"github.com/enslite/enslite/internal/models"
	"github.com/enslite/enslite/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type apiFixture struct {
	server *httptest.Server
	store  *store.Memory
	token  string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	mem := store.NewMemory()
	b := bus.NewInProcess(16)
	broadcastHub := hub.New(b, mem, slog.Default())

	authService, err := auth.NewService(testSecret, "admin", "s3cret", time.Hour)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}

	srv := httptest.NewServer(NewRouter(authService, mem, broadcastHub, slog.Default()))
	t.Cleanup(func() {
		srv.Close()
		b.Close()
	})

	f := &apiFixture{server: srv, store: mem}
	f.token = f.login(t, "admin", "s3cret", http.StatusOK)
	return f
}

func (f *apiFixture) login(t *testing.T, username, password string, wantStatus int) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(f.server.URL+"/api/v1/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("login status = %d, want %d", resp.StatusCode, wantStatus)
	}
	if wantStatus != http.StatusOK {
		return ""
	}
	var lr auth.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if lr.Token == "" {
		t.Fatal("login returned empty token")
	}
	return lr.Token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func (f *apiFixture) seedEvent(t *testing.T, title string, severity int, active bool) models.EmergencyEvent {
	t.Helper()
	ctx := context.Background()
	et, err := f.store.FindOrCreateEventType(ctx, "Fire")
	if err != nil {
		t.Fatalf("seed event type: %v", err)
	}
	ev, err := f.store.CreateEvent(ctx, models.EmergencyEvent{
		Title: title, EventTypeID: et.ID, Severity: severity, IsActive: active,
	})
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return ev
}

func TestHealthIsPublic(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	body := decodeBody[map[string]string](t, resp)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, "admin", "wrong", http.StatusUnauthorized)
	f.login(t, "nobody", "s3cret", http.StatusUnauthorized)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)

	paths := []string{
		"/api/v1/event-types/",
		"/api/v1/emergency-events/",
		"/api/v1/drone-data/",
		"/api/v1/statistics",
	}
	for _, path := range paths {
		resp := f.do(t, http.MethodGet, path, "", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s without token = %d, want 401", path, resp.StatusCode)
		}
	}

	resp := f.do(t, http.MethodGet, "/api/v1/statistics", "not-a-jwt", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("garbage token accepted: %d", resp.StatusCode)
	}
}

func TestEventTypeCreateAndList(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/event-types/", f.token, map[string]string{
		"name": "Flood", "description": "Rising water",
	})
	created := decodeBody[models.EventType](t, resp)
	if resp.StatusCode != http.StatusCreated || created.Name != "Flood" {
		t.Fatalf("create = %d %+v", resp.StatusCode, created)
	}

	resp = f.do(t, http.MethodPost, "/api/v1/event-types/", f.token, map[string]string{"name": ""})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty name accepted: %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/event-types/", f.token, nil)
	list := decodeBody[struct {
		Data  []models.EventType `json:"data"`
		Total int                `json:"total"`
	}](t, resp)
	if list.Total != 1 || list.Data[0].Name != "Flood" {
		t.Errorf("list = %+v", list)
	}
}

func TestEventEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	active := f.seedEvent(t, "Warehouse fire", 3, true)
	f.seedEvent(t, "Old flood", 2, false)

	resp := f.do(t, http.MethodGet, "/api/v1/emergency-events/", f.token, nil)
	all := decodeBody[struct {
		Data  []models.EmergencyEvent `json:"data"`
		Total int                     `json:"total"`
	}](t, resp)
	if all.Total != 2 {
		t.Fatalf("total = %d, want 2", all.Total)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/emergency-events/active", f.token, nil)
	activeList := decodeBody[struct {
		Data  []models.EmergencyEvent `json:"data"`
		Total int                     `json:"total"`
	}](t, resp)
	if activeList.Total != 1 || activeList.Data[0].ID != active.ID {
		t.Errorf("active = %+v", activeList)
	}

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/emergency-events/%d", active.ID), f.token, nil)
	got := decodeBody[models.EmergencyEvent](t, resp)
	if got.Title != "Warehouse fire" || got.EventTypeName != "Fire" {
		t.Errorf("get = %+v", got)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/emergency-events/99999", f.token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing event = %d, want 404", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/emergency-events/abc", f.token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-numeric id = %d, want 400", resp.StatusCode)
	}
}

func TestDeactivateEvent(t *testing.T) {
	f := newAPIFixture(t)
	ev := f.seedEvent(t, "Fire drill", 1, true)

	resp := f.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/emergency-events/%d/deactivate", ev.ID), f.token, nil)
	body := decodeBody[map[string]any](t, resp)
	if resp.StatusCode != http.StatusOK || body["is_active"] != false {
		t.Fatalf("deactivate = %d %v", resp.StatusCode, body)
	}

	stored, err := f.store.GetEvent(context.Background(), ev.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if stored.IsActive {
		t.Error("event still active after deactivation")
	}

	resp = f.do(t, http.MethodPatch, "/api/v1/emergency-events/99999/deactivate", f.token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("deactivate missing = %d, want 404", resp.StatusCode)
	}
}

func TestTelemetryEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.store.CreateTelemetry(ctx, models.TelemetryRecord{
			DroneID: "drone-1", Latitude: float64(i), Longitude: 2,
			BatteryLevel: 90, Status: "active", Timestamp: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("seed telemetry: %v", err)
		}
	}
	if _, err := f.store.CreateTelemetry(ctx, models.TelemetryRecord{
		DroneID: "drone-2", BatteryLevel: 40, Status: "returning", Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed telemetry: %v", err)
	}

	resp := f.do(t, http.MethodGet, "/api/v1/drone-data/?drone_id=drone-1", f.token, nil)
	filtered := decodeBody[struct {
		Data  []models.TelemetryRecord `json:"data"`
		Total int                      `json:"total"`
	}](t, resp)
	if filtered.Total != 3 {
		t.Errorf("drone-1 records = %d, want 3", filtered.Total)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/drone-data/?limit=2", f.token, nil)
	limited := decodeBody[struct {
		Data  []models.TelemetryRecord `json:"data"`
		Total int                      `json:"total"`
	}](t, resp)
	if limited.Total != 2 {
		t.Errorf("limited records = %d, want 2", limited.Total)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/drone-data/?limit=0", f.token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("limit=0 accepted: %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/drone-data/latest", f.token, nil)
	latest := decodeBody[map[string]models.TelemetryRecord](t, resp)
	if len(latest) != 2 {
		t.Errorf("latest has %d drones, want 2", len(latest))
	}
	if latest["drone-2"].Status != "returning" {
		t.Errorf("drone-2 latest = %+v", latest["drone-2"])
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.seedEvent(t, "A", 3, true)
	f.seedEvent(t, "B", 3, true)
	f.seedEvent(t, "C", 1, false)

	resp := f.do(t, http.MethodGet, "/api/v1/statistics", f.token, nil)
	stats := decodeBody[models.Statistics](t, resp)
	if stats.Total != 3 || stats.Active != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.BySeverity["High"] != 2 || stats.BySeverity["Low"] != 1 {
		t.Errorf("by severity = %v", stats.BySeverity)
	}
}

func TestServerCRUD(t *testing.T) {
	f := newAPIFixture(t)

	// Create.
	resp := f.do(t, http.MethodPost, "/api/v1/servers/", f.token, map[string]any{
		"name": "ingest-1", "ip_address": "10.0.0.5", "port": 9090,
	})
	created := decodeBody[models.Server](t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d", resp.StatusCode)
	}
	if created.Name != "ingest-1" || created.Port != 9090 || !created.IsActive {
		t.Fatalf("created = %+v", created)
	}

	// Validation failures.
	for _, body := range []map[string]any{
		{"ip_address": "10.0.0.5", "port": 9090},         // no name
		{"name": "x", "port": 9090},                      // no address
		{"name": "x", "ip_address": "10.0.0.5"},          // no port
		{"name": "x", "ip_address": "a", "port": 70000},  // port out of range
	} {
		resp := f.do(t, http.MethodPost, "/api/v1/servers/", f.token, body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %v accepted with %d, want 400", body, resp.StatusCode)
		}
	}

	// Read back.
	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/servers/%d", created.ID), f.token, nil)
	got := decodeBody[models.Server](t, resp)
	if got.IPAddress != "10.0.0.5" {
		t.Errorf("get = %+v", got)
	}

	// Update replaces the settings and can deactivate.
	resp = f.do(t, http.MethodPut, fmt.Sprintf("/api/v1/servers/%d", created.ID), f.token, map[string]any{
		"name": "ingest-1", "ip_address": "10.0.0.6", "port": 9191, "is_active": false,
	})
	updated := decodeBody[models.Server](t, resp)
	if updated.IPAddress != "10.0.0.6" || updated.Port != 9191 || updated.IsActive {
		t.Errorf("updated = %+v", updated)
	}

	// List.
	resp = f.do(t, http.MethodGet, "/api/v1/servers/", f.token, nil)
	list := decodeBody[struct {
		Data  []models.Server `json:"data"`
		Total int             `json:"total"`
	}](t, resp)
	if list.Total != 1 {
		t.Errorf("list total = %d, want 1", list.Total)
	}

	// Delete, then 404.
	resp = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/servers/%d", created.ID), f.token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", resp.StatusCode)
	}
	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/servers/%d", created.ID), f.token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}

	// The route is behind auth like the rest.
	resp = f.do(t, http.MethodGet, "/api/v1/servers/", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated list = %d, want 401", resp.StatusCode)
	}
}
