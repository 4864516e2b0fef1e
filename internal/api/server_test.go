package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerrad567/dlink-core/internal/device"
	"github.com/nerrad567/dlink-core/internal/discovery"
	"github.com/nerrad567/dlink-core/internal/infrastructure/config"
	"github.com/nerrad567/dlink-core/internal/infrastructure/logging"
)

// ============================================================
// Test fixtures
// ============================================================

// fakeDevices is a scriptable DeviceService.
type fakeDevices struct {
	statuses map[string]*device.Status
	commands []string
	addErr   error
	cmdErr   error
	added    []device.Identity
	updated  []device.Identity
	removed  []string
	identify func(address, pin string) (device.Identity, error)
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{statuses: make(map[string]*device.Status)}
}

func (f *fakeDevices) put(id string, identity device.Identity) {
	identity.ID = id
	f.statuses[id] = &device.Status{Identity: identity, Ready: true, Identified: true, LoggedIn: true}
}

func (f *fakeDevices) List() []device.Status {
	out := make([]device.Status, 0, len(f.statuses))
	for _, s := range f.statuses {
		out = append(out, *s)
	}
	return out
}

func (f *fakeDevices) Get(id string) (*device.Status, error) {
	s, ok := f.statuses[id]
	if !ok {
		return nil, device.ErrNotFound
	}
	return s, nil
}

func (f *fakeDevices) Add(_ context.Context, identity device.Identity) (*device.Status, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.added = append(f.added, identity)
	if identity.ID == "" {
		identity.ID = "NEW"
	}
	status := &device.Status{Identity: identity}
	f.statuses[identity.ID] = status
	return status, nil
}

func (f *fakeDevices) Update(_ context.Context, identity device.Identity) (*device.Status, error) {
	if _, ok := f.statuses[identity.ID]; !ok {
		return nil, device.ErrNotFound
	}
	f.updated = append(f.updated, identity)
	status := &device.Status{Identity: identity}
	f.statuses[identity.ID] = status
	return status, nil
}

func (f *fakeDevices) Remove(_ context.Context, id string) error {
	if _, ok := f.statuses[id]; !ok {
		return device.ErrNotFound
	}
	f.removed = append(f.removed, id)
	delete(f.statuses, id)
	return nil
}

func (f *fakeDevices) HandleCommand(_ context.Context, id, key, payload string) error {
	if f.cmdErr != nil {
		return f.cmdErr
	}
	if _, ok := f.statuses[id]; !ok {
		return device.ErrNotFound
	}
	f.commands = append(f.commands, fmt.Sprintf("%s/%s=%s", id, key, payload))
	return nil
}

func (f *fakeDevices) IdentifyAt(_ context.Context, address, pin string) (device.Identity, error) {
	if f.identify != nil {
		return f.identify(address, pin)
	}
	return device.Identity{}, errors.New("unreachable")
}

// fakeDiscovery is a scriptable DiscoveryService.
type fakeDiscovery struct {
	candidates map[string]discovery.Candidate
	forgotten  []string
}

func newFakeDiscovery() *fakeDiscovery {
	return &fakeDiscovery{candidates: make(map[string]discovery.Candidate)}
}

func (f *fakeDiscovery) Candidates() []discovery.Candidate {
	out := make([]discovery.Candidate, 0, len(f.candidates))
	for _, c := range f.candidates {
		out = append(out, c)
	}
	return out
}

func (f *fakeDiscovery) Candidate(id string) (discovery.Candidate, bool) {
	c, ok := f.candidates[id]
	return c, ok
}

func (f *fakeDiscovery) Forget(id string) {
	f.forgotten = append(f.forgotten, id)
	delete(f.candidates, id)
}

// fakeStates is a static StateReader.
type fakeStates struct {
	states map[string]map[string]any
}

func (f *fakeStates) States(deviceID string) map[string]any {
	return f.states[deviceID]
}

// healthFunc adapts a function to HealthChecker.
type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func testServer(t *testing.T, devices *fakeDevices, disc *fakeDiscovery, states *fakeStates, health map[string]HealthChecker) *Server {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		Logger:  log,
		Devices: devices,
		Health:  health,
		Version: "test",
	}
	if disc != nil {
		deps.Discovery = disc
	}
	if states != nil {
		deps.States = states
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

// ============================================================
// Device endpoints
// ============================================================

func TestListDevices(t *testing.T) {
	devices := newFakeDevices()
	devices.put("AABBCCDDEEFF", device.Identity{MAC: "AA:BB:CC:DD:EE:FF", Address: "10.0.0.5", Model: "DSP-W215"})
	srv := testServer(t, devices, nil, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/devices/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[map[string][]device.Status](t, rec)
	if len(body["devices"]) != 1 {
		t.Fatalf("devices = %d, want 1", len(body["devices"]))
	}
	if body["devices"][0].Identity.Model != "DSP-W215" {
		t.Errorf("model = %q", body["devices"][0].Identity.Model)
	}
}

func TestCreateDevice(t *testing.T) {
	devices := newFakeDevices()
	srv := testServer(t, devices, nil, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/devices/", map[string]any{
		"address": "10.0.0.9",
		"pin":     "123456",
		"mac":     "aa:bb:cc:dd:ee:ff",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if len(devices.added) != 1 {
		t.Fatalf("added = %d, want 1", len(devices.added))
	}
	got := devices.added[0]
	if got.Address != "10.0.0.9" || got.PIN != "123456" {
		t.Errorf("identity = %+v", got)
	}
	if !got.Enabled {
		t.Error("enabled should default to true")
	}
	if got.PollIntervalMs != device.DefaultPollIntervalMs {
		t.Errorf("poll interval = %d, want default", got.PollIntervalMs)
	}
}

func TestCreateDeviceValidation(t *testing.T) {
	srv := testServer(t, newFakeDevices(), nil, nil, nil)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing address", map[string]any{"pin": "1234"}},
		{"missing pin", map[string]any{"address": "10.0.0.9"}},
		{"unknown field", map[string]any{"address": "10.0.0.9", "pin": "1234", "bogus": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/devices/", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestCreateDeviceConflict(t *testing.T) {
	devices := newFakeDevices()
	devices.addErr = device.ErrExists
	srv := testServer(t, devices, nil, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/devices/", map[string]any{
		"address": "10.0.0.9",
		"pin":     "123456",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestGetDevice(t *testing.T) {
	devices := newFakeDevices()
	devices.put("AABBCCDDEEFF", device.Identity{Address: "10.0.0.5", PIN: "secret-pin"})
	srv := testServer(t, devices, nil, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/devices/AABBCCDDEEFF/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("secret-pin")) {
		t.Error("response leaks device PIN")
	}

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/devices/NOPE/", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestUpdateDevicePatchSemantics(t *testing.T) {
	devices := newFakeDevices()
	devices.put("AABBCCDDEEFF", device.Identity{
		Address:        "10.0.0.5",
		PIN:            "123456",
		Name:           "hallway",
		Enabled:        true,
		PollIntervalMs: 30000,
	})
	srv := testServer(t, devices, nil, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPatch, "/api/v1/devices/AABBCCDDEEFF/", map[string]any{
		"enabled": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(devices.updated) != 1 {
		t.Fatalf("updated = %d, want 1", len(devices.updated))
	}
	got := devices.updated[0]
	if got.Enabled {
		t.Error("enabled should be false after patch")
	}
	// Fields absent from the patch keep their stored values.
	if got.Name != "hallway" || got.Address != "10.0.0.5" || got.PIN != "123456" || got.PollIntervalMs != 30000 {
		t.Errorf("untouched fields changed: %+v", got)
	}
}

func TestDeleteDevice(t *testing.T) {
	devices := newFakeDevices()
	devices.put("AABBCCDDEEFF", device.Identity{Address: "10.0.0.5"})
	srv := testServer(t, devices, nil, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodDelete, "/api/v1/devices/AABBCCDDEEFF/", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(devices.removed) != 1 || devices.removed[0] != "AABBCCDDEEFF" {
		t.Errorf("removed = %v", devices.removed)
	}
}

func TestGetDeviceState(t *testing.T) {
	devices := newFakeDevices()
	devices.put("AABBCCDDEEFF", device.Identity{Address: "10.0.0.5"})
	states := &fakeStates{states: map[string]map[string]any{
		"AABBCCDDEEFF": {"state": true, "temperature": 21.5},
	}}
	srv := testServer(t, devices, nil, states, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/devices/AABBCCDDEEFF/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	state, ok := body["state"].(map[string]any)
	if !ok {
		t.Fatalf("missing state object: %s", rec.Body.String())
	}
	if state["state"] != true {
		t.Errorf("state = %v", state["state"])
	}
}

func TestDeviceCommand(t *testing.T) {
	devices := newFakeDevices()
	devices.put("AABBCCDDEEFF", device.Identity{Address: "10.0.0.5"})
	srv := testServer(t, devices, nil, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/devices/AABBCCDDEEFF/command/state", map[string]any{
		"payload": "true",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(devices.commands) != 1 || devices.commands[0] != "AABBCCDDEEFF/state=true" {
		t.Errorf("commands = %v", devices.commands)
	}
}

func TestDeviceCommandErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"disabled", device.ErrDisabled, http.StatusBadRequest},
		{"unsupported", device.ErrNotSupported, http.StatusBadRequest},
		{"sound type", device.ErrInvalidSoundType, http.StatusBadRequest},
		{"transport", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devices := newFakeDevices()
			devices.put("AABBCCDDEEFF", device.Identity{Address: "10.0.0.5"})
			devices.cmdErr = tt.err
			srv := testServer(t, devices, nil, nil, nil)

			rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/devices/AABBCCDDEEFF/command/state", map[string]any{
				"payload": "true",
			})
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

// ============================================================
// Discovery endpoints
// ============================================================

func TestListCandidates(t *testing.T) {
	disc := newFakeDiscovery()
	disc.candidates["112233445566"] = discovery.Candidate{
		ID:      "112233445566",
		MAC:     "11:22:33:44:55:66",
		Address: "10.0.0.77",
		Model:   "DSP-W115",
	}
	srv := testServer(t, newFakeDevices(), disc, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/discovery/candidates", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[map[string][]discovery.Candidate](t, rec)
	if len(body["candidates"]) != 1 {
		t.Fatalf("candidates = %d, want 1", len(body["candidates"]))
	}
}

func TestDiscoveryDisabled(t *testing.T) {
	srv := testServer(t, newFakeDevices(), nil, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/discovery/candidates", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPromoteCandidate(t *testing.T) {
	disc := newFakeDiscovery()
	disc.candidates["112233445566"] = discovery.Candidate{
		ID:      "112233445566",
		MAC:     "11:22:33:44:55:66",
		Address: "10.0.0.77",
		Model:   "DSP-W245",
	}
	devices := newFakeDevices()
	srv := testServer(t, devices, disc, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/discovery/candidates/112233445566/promote", map[string]any{
		"pin":  "654321",
		"name": "garden strip",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if len(devices.added) != 1 {
		t.Fatalf("added = %d, want 1", len(devices.added))
	}
	got := devices.added[0]
	if got.MAC != "11:22:33:44:55:66" || got.Address != "10.0.0.77" || got.Model != "DSP-W245" {
		t.Errorf("identity from candidate = %+v", got)
	}
	if got.PIN != "654321" || got.Name != "garden strip" {
		t.Errorf("identity from request = %+v", got)
	}
	if len(disc.forgotten) != 1 {
		t.Errorf("candidate not forgotten after promote: %v", disc.forgotten)
	}
}

func TestPromoteCandidateRequiresPIN(t *testing.T) {
	disc := newFakeDiscovery()
	disc.candidates["112233445566"] = discovery.Candidate{ID: "112233445566", Address: "10.0.0.77"}
	srv := testServer(t, newFakeDevices(), disc, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/discovery/candidates/112233445566/promote", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(disc.forgotten) != 0 {
		t.Error("candidate should survive a rejected promote")
	}
}

func TestIdentify(t *testing.T) {
	devices := newFakeDevices()
	devices.identify = func(address, pin string) (device.Identity, error) {
		if address != "10.0.0.42" || pin != "111222" {
			return device.Identity{}, errors.New("wrong args")
		}
		return device.Identity{MAC: "AA:BB:CC:DD:EE:FF", Model: "DCH-S150"}, nil
	}
	srv := testServer(t, devices, nil, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/discovery/identify", map[string]any{
		"address": "10.0.0.42",
		"pin":     "111222",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]any](t, rec)
	if body["model"] != "DCH-S150" {
		t.Errorf("model = %v", body["model"])
	}
}

// ============================================================
// Health and middleware
// ============================================================

func TestHealthEndpoint(t *testing.T) {
	health := map[string]HealthChecker{
		"database": healthFunc(func(context.Context) error { return nil }),
		"mqtt":     healthFunc(func(context.Context) error { return errors.New("broker unreachable") }),
	}
	srv := testServer(t, newFakeDevices(), nil, nil, health)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	checks, _ := body["checks"].(map[string]any)
	if checks["database"] != "ok" {
		t.Errorf("database check = %v", checks["database"])
	}
	if checks["mqtt"] != "broker unreachable" {
		t.Errorf("mqtt check = %v", checks["mqtt"])
	}
}

func TestHealthAllOK(t *testing.T) {
	health := map[string]HealthChecker{
		"database": healthFunc(func(context.Context) error { return nil }),
	}
	srv := testServer(t, newFakeDevices(), nil, nil, health)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHealthCheckTimeout(t *testing.T) {
	health := map[string]HealthChecker{
		"slow": healthFunc(func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Second):
				return nil
			}
		}),
	}
	srv := testServer(t, newFakeDevices(), nil, nil, health)

	start := time.Now()
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/health", nil)
	if time.Since(start) > 5*time.Second {
		t.Fatal("health check did not time out")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := testServer(t, newFakeDevices(), nil, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/system", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing generated X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/system", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req)
	if got := rec2.Header().Get("X-Request-ID"); got != "client-supplied" {
		t.Errorf("X-Request-ID = %q, want client-supplied", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := testServer(t, newFakeDevices(), nil, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices/", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://dashboard.local" {
		t.Errorf("Allow-Origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
