package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/fleetwatch/internal/alert"
	"github.com/nerrad567/fleetwatch/internal/bus"
	"github.com/nerrad567/fleetwatch/internal/clock"
	"github.com/nerrad567/fleetwatch/internal/command"
	"github.com/nerrad567/fleetwatch/internal/device"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/config"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/logging"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetwatch/internal/telemetry"
	"github.com/nerrad567/fleetwatch/internal/testutil"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type testEnv struct {
	srv       *Server
	handler   http.Handler
	devices   *device.SQLiteRepository
	groups    *device.SQLiteGroupRepository
	telemetry *telemetry.SQLiteRepository
	alerts    *alert.SQLiteRepository
	commands  *command.SQLiteRepository
	bus       *bus.Recorder
	clock     *clock.Manual
	token     string
}

type envOption func(*Deps)

func withDatabaseCheck(c HealthChecker) envOption {
	return func(d *Deps) { d.Database = c }
}

func withChecks(checks map[string]HealthChecker) envOption {
	return func(d *Deps) { d.Checks = checks }
}

func withRateLimit(perMinute, burst int) envOption {
	return func(d *Deps) {
		d.Security.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: perMinute, Burst: burst}
	}
}

// withHubBus routes REST announcements through the hub instead of the recorder.
func withHubBus() envOption {
	return func(d *Deps) { d.Bus = nil }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db := testutil.OpenDB(t)
	clk := testutil.NewClock()
	rec := &bus.Recorder{}

	e := &testEnv{
		devices:   device.NewSQLiteRepository(db.DB, clk),
		groups:    device.NewSQLiteGroupRepository(db.DB, clk),
		telemetry: telemetry.NewSQLiteRepository(db.DB, clk),
		alerts:    alert.NewSQLiteRepository(db.DB, clk),
		commands:  command.NewSQLiteRepository(db.DB, clk),
		bus:       rec,
		clock:     clk,
	}

	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     16,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
		},
		Logger:    logging.Nop(),
		Devices:   e.devices,
		Telemetry: e.telemetry,
		Alerts:    e.alerts,
		Commands:  e.commands,
		Dispatcher: command.NewDispatcher(command.DispatcherConfig{
			Commands: e.commands,
			Devices:  e.devices,
			Topics:   mqtt.NewTopics("devices"),
			Bus:      rec,
			Clock:    clk,
		}),
		Groups:  e.groups,
		Clock:   clk,
		Bus:     rec,
		Version: "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	require.NoError(t, err)
	e.srv = srv
	e.handler = srv.buildRouter()

	e.token = testutil.AccessToken(t, "user-1", testSecret)
	return e
}

// do performs an authenticated request and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+e.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	_, err = New(Deps{Logger: logging.Nop()})
	assert.Error(t, err)
}

// ─── Health, metrics and middleware ────────────────────────────────

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

type stubCheck struct{ err error }

func (s stubCheck) HealthCheck(context.Context) error { return s.err }

func TestHealth_Degraded(t *testing.T) {
	e := newTestEnv(t,
		withDatabaseCheck(stubCheck{}),
		withChecks(map[string]HealthChecker{"mqtt": stubCheck{err: errors.New("mqtt: not connected")}}),
	)

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "degraded", body["status"])
	components := body["components"].(map[string]any)
	assert.Equal(t, "ok", components["database"])
	assert.Equal(t, "mqtt: not connected", components["mqtt"])
}

func TestHealth_DatabaseDown(t *testing.T) {
	e := newTestEnv(t, withDatabaseCheck(stubCheck{err: errors.New("database closed")}))

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decode[map[string]any](t, w)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)

	// Generate one request so the HTTP series exist.
	e.do(t, http.MethodGet, "/api/v1/devices", "")

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fleetwatch_http_requests_total")
	assert.Contains(t, w.Body.String(), `route="/api/v1/devices`)
}

func TestRequestID(t *testing.T) {
	e := newTestEnv(t)

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id-123")
	w = httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	assert.Equal(t, "client-id-123", w.Header().Get("X-Request-ID"))
}

func TestCORS_Preflight(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuth_Required(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			e.handler.ServeHTTP(w, req)

			require.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, ErrCodeUnauthorized, decode[Error](t, w).Code)
		})
	}

	t.Run("wrong secret", func(t *testing.T) {
		token := testutil.AccessToken(t, "user-1", "another-secret-that-is-long-enough-xx")
		req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		e.handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, withRateLimit(60, 2))

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, e.do(t, http.MethodGet, "/api/v1/devices", "").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Health stays reachable for load balancer checks.
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNotFound(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/api/v1/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ─── Devices ───────────────────────────────────────────────────────

func TestCreateAndGetDevice(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/devices",
		`{"deviceId":"kiosk-01","name":"Front Desk","location":{"name":"Lobby"},"tags":["kiosk"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	created := decode[device.Device](t, w)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, device.StatusPending, created.Status)
	assert.Equal(t, "Lobby", created.Location.Name)

	events := e.bus.Named(bus.EventDeviceCreated)
	require.Len(t, events, 1)
	assert.True(t, events[0].Scope.Broadcast())

	w = e.do(t, http.MethodGet, "/api/v1/devices/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "kiosk-01", decode[device.Device](t, w).DeviceID)
}

func TestCreateDevice_Errors(t *testing.T) {
	e := newTestEnv(t)
	testutil.CreateDevice(t, e.devices)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"short device id", `{"deviceId":"ab","name":"x"}`, http.StatusBadRequest},
		{"missing name", `{"deviceId":"kiosk-02"}`, http.StatusBadRequest},
		{"duplicate", `{"deviceId":"tablet-001","name":"Again"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/api/v1/devices", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, e.bus.Named(bus.EventDeviceCreated))
}

func TestListDevices(t *testing.T) {
	e := newTestEnv(t)
	testutil.OnlineDevice(t, e.devices, e.clock.Now(), testutil.WithDeviceID("kiosk-b"))
	testutil.CreateDevice(t, e.devices, testutil.WithDeviceID("kiosk-a"))

	w := e.do(t, http.MethodGet, "/api/v1/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	var all struct {
		Devices []device.Device `json:"devices"`
		Count   int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Equal(t, 2, all.Count)

	w = e.do(t, http.MethodGet, "/api/v1/devices?status=online", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all.Devices, 1)
	assert.Equal(t, "kiosk-b", all.Devices[0].DeviceID)

	w = e.do(t, http.MethodGet, "/api/v1/devices?status=sleeping", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetDevice_NotFound(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/api/v1/devices/nonexistent-id", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, decode[Error](t, w).Code)
}

func TestUpdateDevice(t *testing.T) {
	e := newTestEnv(t)
	d := testutil.CreateDevice(t, e.devices)

	w := e.do(t, http.MethodPatch, "/api/v1/devices/"+d.ID, `{"name":"Renamed","tags":["a","b"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	updated := decode[device.Device](t, w)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, []string{"a", "b"}, updated.Tags)
	assert.Len(t, e.bus.Named(bus.EventDeviceUpdated), 1)

	w = e.do(t, http.MethodPatch, "/api/v1/devices/missing", `{"name":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteDevice(t *testing.T) {
	e := newTestEnv(t)
	d := testutil.CreateDevice(t, e.devices)

	w := e.do(t, http.MethodDelete, "/api/v1/devices/"+d.ID, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	events := e.bus.Named(bus.EventDeviceDeleted)
	require.Len(t, events, 1)
	assert.Equal(t, map[string]string{"id": d.ID}, events[0].Payload)

	w = e.do(t, http.MethodDelete, "/api/v1/devices/"+d.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ─── Commands ──────────────────────────────────────────────────────

func TestSendCommand_StoredPendingWithoutBroker(t *testing.T) {
	e := newTestEnv(t)
	d := testutil.CreateDevice(t, e.devices)

	w := e.do(t, http.MethodPost, "/api/v1/devices/"+d.ID+"/commands", `{"command":"screenshot","payload":{"quality":80}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[commandAccepted](t, w)
	assert.Equal(t, "Command sent", resp.Message)

	cmd, err := e.commands.GetByID(context.Background(), resp.CommandID)
	require.NoError(t, err)
	assert.Equal(t, command.StatusPending, cmd.Status)
	assert.Equal(t, "screenshot", cmd.Command)
	assert.Equal(t, "user-1", cmd.IssuedBy)
	assert.InDelta(t, 80, cmd.Payload["quality"], 0)
}

func TestSendCommand_Validation(t *testing.T) {
	e := newTestEnv(t)
	d := testutil.CreateDevice(t, e.devices)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/v1/devices/"+d.ID+"/commands", `{"command":"  "}`).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/api/v1/devices/missing/commands", `{"command":"ping"}`).Code)
}

func TestRebootDevice(t *testing.T) {
	e := newTestEnv(t)
	d := testutil.CreateDevice(t, e.devices)

	w := e.do(t, http.MethodPost, "/api/v1/devices/"+d.ID+"/reboot", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[commandAccepted](t, w)
	assert.Equal(t, "Reboot command sent", resp.Message)
	assert.NotEmpty(t, resp.CommandID)

	stored, err := e.devices.GetByID(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, device.StatusRebooting, stored.Status)

	changes := e.bus.Named(bus.EventDeviceStatusChange)
	require.Len(t, changes, 1)
	assert.Equal(t, device.StatusRebooting, changes[0].Payload.(device.StatusChange).Status)
}

func TestBulkReboot(t *testing.T) {
	e := newTestEnv(t)
	a := testutil.CreateDevice(t, e.devices, testutil.WithDeviceID("kiosk-a"))
	b := testutil.CreateDevice(t, e.devices, testutil.WithDeviceID("kiosk-b"))

	body := `{"deviceIds":["` + a.ID + `","missing","` + b.ID + `"]}`
	w := e.do(t, http.MethodPost, "/api/v1/devices/bulk/reboot", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Message string               `json:"message"`
		Results []command.BulkResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Bulk reboot initiated", resp.Message)
	require.Len(t, resp.Results, 3)
	assert.NotEmpty(t, resp.Results[0].CommandID)
	assert.Equal(t, "device not found", resp.Results[1].Error)
	assert.NotEmpty(t, resp.Results[2].CommandID)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/v1/devices/bulk/reboot", `{"deviceIds":[]}`).Code)
}

func TestScreenshot(t *testing.T) {
	e := newTestEnv(t)
	d := testutil.CreateDevice(t, e.devices)
	ctx := context.Background()

	w := e.do(t, http.MethodGet, "/api/v1/devices/"+d.ID+"/screenshot", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `null`, string(decode[map[string]json.RawMessage](t, w)["latestScreenshot"]))

	first := decode[screenshotResponse](t, w)
	assert.Equal(t, "Screenshot requested", first.Message)
	requested, err := e.commands.GetByID(ctx, first.CommandID)
	require.NoError(t, err)
	assert.Equal(t, command.NameScreenshot, requested.Command)
	assert.Equal(t, "user-1", requested.IssuedBy)

	_, err = e.commands.Resolve(ctx, first.CommandID, command.Result{Success: true, Response: json.RawMessage(`{"url":"/shots/1.png"}`)})
	require.NoError(t, err)

	w = e.do(t, http.MethodGet, "/api/v1/devices/"+d.ID+"/screenshot", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decode[screenshotResponse](t, w)
	assert.NotEqual(t, first.CommandID, second.CommandID)
	require.NotNil(t, second.LatestScreenshot)
	assert.Equal(t, first.CommandID, second.LatestScreenshot.ID)
	assert.JSONEq(t, `{"url":"/shots/1.png"}`, string(second.LatestScreenshot.Response))

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/devices/missing/screenshot", "").Code)
}

func TestDeviceCommands(t *testing.T) {
	e := newTestEnv(t)
	d := testutil.CreateDevice(t, e.devices)
	e.do(t, http.MethodPost, "/api/v1/devices/"+d.ID+"/reboot", "")

	w := e.do(t, http.MethodGet, "/api/v1/devices/"+d.ID+"/commands", "")
	require.Equal(t, http.StatusOK, w.Code)
	cmds := decode[[]command.Command](t, w)
	require.Len(t, cmds, 1)
	assert.Equal(t, command.NameReboot, cmds[0].Command)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/devices/"+d.ID+"/commands?limit=zero", "").Code)
}

// ─── Telemetry reads ───────────────────────────────────────────────

func ptr[T any](v T) *T { return &v }

func TestDeviceMetrics_Period(t *testing.T) {
	e := newTestEnv(t)
	d := testutil.CreateDevice(t, e.devices)
	ctx := context.Background()
	now := e.clock.Now()

	require.NoError(t, e.telemetry.AppendMetric(ctx, &telemetry.MetricSample{DeviceID: d.ID, RecordedAt: now.Add(-2 * time.Hour), CPUUsage: ptr(10.0)}))
	require.NoError(t, e.telemetry.AppendMetric(ctx, &telemetry.MetricSample{DeviceID: d.ID, RecordedAt: now.Add(-30 * time.Minute), CPUUsage: ptr(20.0)}))

	w := e.do(t, http.MethodGet, "/api/v1/devices/"+d.ID+"/metrics?period=1h", "")
	require.Equal(t, http.StatusOK, w.Code)
	samples := decode[[]telemetry.MetricSample](t, w)
	require.Len(t, samples, 1)
	assert.InDelta(t, 20, *samples[0].CPUUsage, 0.001)

	w = e.do(t, http.MethodGet, "/api/v1/devices/"+d.ID+"/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]telemetry.MetricSample](t, w), 2, "default period is 24h")

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/devices/"+d.ID+"/metrics?period=2w", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/devices/missing/metrics", "").Code)
}

func TestDeviceLogsAndEvents(t *testing.T) {
	e := newTestEnv(t)
	d := testutil.CreateDevice(t, e.devices)
	ctx := context.Background()

	require.NoError(t, e.telemetry.AppendLog(ctx, &telemetry.LogEntry{DeviceID: d.ID, Level: "ERROR", Message: "disk full"}))
	require.NoError(t, e.telemetry.AppendLog(ctx, &telemetry.LogEntry{DeviceID: d.ID, Message: "started"}))
	require.NoError(t, e.telemetry.AppendEvent(ctx, &telemetry.DeviceEvent{DeviceID: d.ID, EventType: "APP_CRASH", Severity: "ERROR"}))
	require.NoError(t, e.telemetry.AppendEvent(ctx, &telemetry.DeviceEvent{DeviceID: d.ID, EventType: "SCREEN_ON"}))

	w := e.do(t, http.MethodGet, "/api/v1/devices/"+d.ID+"/logs?level=error", "")
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode[[]telemetry.LogEntry](t, w)
	require.Len(t, logs, 1)
	assert.Equal(t, "disk full", logs[0].Message)

	w = e.do(t, http.MethodGet, "/api/v1/devices/"+d.ID+"/events?type=SCREEN_ON", "")
	require.Equal(t, http.StatusOK, w.Code)
	events := decode[[]telemetry.DeviceEvent](t, w)
	require.Len(t, events, 1)
	assert.Equal(t, "INFO", events[0].Severity)

	w = e.do(t, http.MethodGet, "/api/v1/devices/"+d.ID+"/events?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]telemetry.DeviceEvent](t, w), 1)
}

// ─── Alerts ────────────────────────────────────────────────────────

func (e *testEnv) createAlert(t *testing.T, deviceID string, sev alert.Severity) *alert.Alert {
	t.Helper()
	a := &alert.Alert{DeviceID: deviceID, AlertType: "APP_CRASH", Message: "crashed", Severity: sev}
	require.NoError(t, e.alerts.Create(context.Background(), a))
	e.clock.Advance(time.Second)
	return a
}

func TestListAlerts_Filters(t *testing.T) {
	e := newTestEnv(t)
	d := testutil.CreateDevice(t, e.devices)
	warn := e.createAlert(t, d.ID, alert.SeverityWarning)
	crit := e.createAlert(t, "", alert.SeverityCritical)
	_, err := e.alerts.Acknowledge(context.Background(), warn.ID, "user-2")
	require.NoError(t, err)

	w := e.do(t, http.MethodGet, "/api/v1/alerts", "")
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[[]alert.Alert](t, w)
	require.Len(t, all, 2)
	assert.Equal(t, crit.ID, all[0].ID, "newest first")

	w = e.do(t, http.MethodGet, "/api/v1/alerts?acknowledged=false", "")
	require.Len(t, decode[[]alert.Alert](t, w), 1)

	w = e.do(t, http.MethodGet, "/api/v1/alerts?severity=warning&deviceId="+d.ID, "")
	got := decode[[]alert.Alert](t, w)
	require.Len(t, got, 1)
	assert.Equal(t, "Lobby Tablet", got[0].DeviceName)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/alerts?severity=LOUD", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/alerts?acknowledged=maybe", "").Code)
}

func TestAcknowledgeAlert(t *testing.T) {
	e := newTestEnv(t)
	a := e.createAlert(t, "", alert.SeverityError)

	w := e.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/acknowledge", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	acked := decode[alert.Alert](t, w)
	assert.True(t, acked.Acknowledged)
	assert.Equal(t, "user-1", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)

	events := e.bus.Named(bus.EventAlertAcknowledged)
	require.Len(t, events, 1)
	assert.True(t, events[0].Scope.Broadcast())

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/api/v1/alerts/missing/acknowledge", "").Code)
}

func TestBulkAcknowledge(t *testing.T) {
	e := newTestEnv(t)
	a := e.createAlert(t, "", alert.SeverityError)
	b := e.createAlert(t, "", alert.SeverityError)

	w := e.do(t, http.MethodPost, "/api/v1/alerts/bulk/acknowledge", `{"alertIds":["`+a.ID+`","`+b.ID+`","missing"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[map[string]any](t, w)
	assert.Equal(t, "Alerts acknowledged", resp["message"])
	assert.InDelta(t, 2, resp["count"], 0)

	events := e.bus.Named(bus.EventAlertsBulkAcknowledge)
	require.Len(t, events, 1)
	assert.Equal(t, map[string]any{"alertIds": []string{a.ID, b.ID, "missing"}}, events[0].Payload)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/v1/alerts/bulk/acknowledge", `{}`).Code)
}

func TestGetAndDeleteAlert(t *testing.T) {
	e := newTestEnv(t)
	a := e.createAlert(t, "", alert.SeverityInfo)

	w := e.do(t, http.MethodGet, "/api/v1/alerts/"+a.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, a.ID, decode[alert.Alert](t, w).ID)

	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/api/v1/alerts/"+a.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/alerts/"+a.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/api/v1/alerts/"+a.ID, "").Code)
}

// ─── Groups ────────────────────────────────────────────────────────

func (e *testEnv) createGroup(t *testing.T, name, parentID string) *device.Group {
	t.Helper()
	g := &device.Group{Name: name, ParentID: parentID}
	require.NoError(t, e.groups.Create(context.Background(), g))
	return g
}

func TestGroups_CreateAndList(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/groups", `{"name":"Warehouse","description":"Dock side"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[device.Group](t, w)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Dock side", created.Description)

	w = e.do(t, http.MethodPost, "/api/v1/groups", `{"name":"Dock 1","parentId":"`+created.ID+`"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/groups", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Groups []device.Group `json:"groups"`
		Count  int            `json:"count"`
	}](t, w)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "Dock 1", resp.Groups[0].Name)
	assert.Equal(t, 1, resp.Groups[1].ChildCount)
}

func TestGroups_CreateErrors(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"empty name", `{"name":""}`},
		{"unknown parent", `{"name":"Floor","parentId":"missing"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/v1/groups", tt.body).Code)
		})
	}
}

func TestGroups_Detail(t *testing.T) {
	e := newTestEnv(t)
	site := e.createGroup(t, "Site", "")
	floor := e.createGroup(t, "Floor 1", site.ID)
	e.createGroup(t, "Room 101", floor.ID)
	testutil.CreateDevice(t, e.devices, testutil.WithGroup(floor.ID))

	w := e.do(t, http.MethodGet, "/api/v1/groups/"+floor.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var detail struct {
		ID       string          `json:"id"`
		Parent   *device.Group   `json:"parent"`
		Children []device.Group  `json:"children"`
		Devices  []device.Device `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, floor.ID, detail.ID)
	require.NotNil(t, detail.Parent)
	assert.Equal(t, "Site", detail.Parent.Name)
	require.Len(t, detail.Children, 1)
	assert.Equal(t, "Room 101", detail.Children[0].Name)
	require.Len(t, detail.Devices, 1)
	assert.Equal(t, "tablet-001", detail.Devices[0].DeviceID)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/groups/missing", "").Code)
}

func TestGroups_UpdateAndDelete(t *testing.T) {
	e := newTestEnv(t)
	parent := e.createGroup(t, "Parent", "")
	child := e.createGroup(t, "Child", parent.ID)
	d := testutil.CreateDevice(t, e.devices, testutil.WithGroup(parent.ID))

	w := e.do(t, http.MethodPatch, "/api/v1/groups/"+parent.ID, `{"parentId":"`+child.ID+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "cycle")

	w = e.do(t, http.MethodPatch, "/api/v1/groups/"+child.ID, `{"name":"Orphan","parentId":null}`)
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[device.Group](t, w)
	assert.Equal(t, "Orphan", updated.Name)
	assert.Empty(t, updated.ParentID)

	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/api/v1/groups/"+parent.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/api/v1/groups/"+parent.ID, "").Code)

	w = e.do(t, http.MethodGet, "/api/v1/devices/"+d.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[device.Device](t, w).GroupID)
}

func TestDevices_GroupMembership(t *testing.T) {
	e := newTestEnv(t)
	g := e.createGroup(t, "Lobby", "")

	w := e.do(t, http.MethodPost, "/api/v1/devices", `{"deviceId":"kiosk-01","name":"Kiosk","groupId":"missing"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/devices", `{"deviceId":"kiosk-01","name":"Kiosk","groupId":"`+g.ID+`"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, g.ID, decode[device.Device](t, w).GroupID)
	testutil.CreateDevice(t, e.devices)

	w = e.do(t, http.MethodGet, "/api/v1/devices?groupId="+g.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Devices []device.Device `json:"devices"`
	}](t, w)
	require.Len(t, resp.Devices, 1)
	assert.Equal(t, "kiosk-01", resp.Devices[0].DeviceID)
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_HealthCheckBeforeStart(t *testing.T) {
	e := newTestEnv(t)
	assert.Error(t, e.srv.HealthCheck(context.Background()))
	assert.NoError(t, e.srv.Close(), "Close before Start is a no-op")
}
