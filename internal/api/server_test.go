package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaska/botpulse/internal/engine"
	"github.com/soaska/botpulse/internal/health"
	"github.com/soaska/botpulse/internal/model"
	"github.com/soaska/botpulse/internal/report"
	"github.com/soaska/botpulse/internal/store"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	dir := t.TempDir()
	fs, err := store.NewFileStore(filepath.Join(dir, "dataset.json"), zerolog.Nop())
	require.NoError(t, err)
	registry := store.NewRegistry(filepath.Join(dir, "identity.json"))

	collector := engine.New(fs, registry, engine.WithIDMinter(func() string {
		return "srv-gen-1"
	}))
	projector := report.New(fs, health.DefaultWindows(), report.WithRatchet(collector))

	cfg.Collector = collector
	cfg.Projector = projector
	cfg.Logger = zerolog.Nop()
	return NewServer(cfg)
}

func postJSON(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, s *Server, path string, dest interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if dest != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
	}
	return rec
}

func TestConnectEndpoint(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := postJSON(t, s, "/api/events/connect", `{"user_id":"u1","user_agent":"bot/1.0"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.ConnectResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "srv-gen-1", result.InstanceID)
	assert.False(t, result.Reconnection)
}

func TestConnectValidation(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := postJSON(t, s, "/api/events/connect", `{"user_agent":"bot/1.0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, s, "/api/events/connect", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnectRecordsSocketIP(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := postJSON(t, s, "/api/events/connect", `{"user_id":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var view report.InstancesView
	getJSON(t, s, "/api/instances", &view)
	require.Len(t, view.Instances, 1)
	// httptest requests arrive from 192.0.2.1; no trusted proxies configured.
	assert.Equal(t, 1, view.Total)
}

func TestDisconnectHeartbeatValidation(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := postJSON(t, s, "/api/events/disconnect", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, s, "/api/events/heartbeat", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownIDsAreAcceptedAsNoops(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := postJSON(t, s, "/api/events/disconnect", `{"instance_id":"ghost"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, s, "/api/events/heartbeat", `{"instance_id":"ghost"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTrackValidation(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := postJSON(t, s, "/api/events/track", `{"instance_id":"i1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "event_type is required")

	rec = postJSON(t, s, "/api/events/track", `{"event_type":"message"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "one of instance_id or user_id is required")

	rec = postJSON(t, s, "/api/events/track", `{"event_type":"message","user_id":"u1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSystemInfoValidation(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := postJSON(t, s, "/api/events/system-info", `{"instance_id":"i1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "info is required")

	rec = postJSON(t, s, "/api/events/system-info", `{"instance_id":"ghost","info":{"os":"linux"}}`)
	assert.Equal(t, http.StatusOK, rec.Code, "unknown instance is a no-op, not an error")
}

func TestIngestThenReadBack(t *testing.T) {
	s := newTestServer(t, Config{})

	require.Equal(t, http.StatusOK, postJSON(t, s, "/api/events/connect", `{"user_id":"u1"}`).Code)
	require.Equal(t, http.StatusOK, postJSON(t, s, "/api/events/track",
		`{"instance_id":"srv-gen-1","user_id":"u1","event_type":"message","payload":{"message_type":"photo"}}`).Code)

	var stats report.StatsView
	rec := getJSON(t, s, "/api/stats", &stats)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, stats.TotalInstances)
	assert.Equal(t, int64(1), stats.TotalConnections)
	assert.Equal(t, int64(1), stats.TotalMessages)
	assert.Equal(t, int64(1), stats.MessagesByType["photo"])

	var users report.UsersView
	getJSON(t, s, "/api/users", &users)
	require.Equal(t, 1, users.Total)
	assert.Equal(t, int64(1), users.Users[0].TotalMessages)

	var healthView report.HealthSummary
	getJSON(t, s, "/api/health", &healthView)
	assert.Equal(t, 1, healthView.ActiveInstances)

	var errorsView report.ErrorsView
	getJSON(t, s, "/api/errors", &errorsView)
	assert.Zero(t, errorsView.Total)
}

func TestDiagnosticsRequiresAuth(t *testing.T) {
	s := newTestServer(t, Config{APIKey: "secret"})

	rec := getJSON(t, s, "/api/diagnostics", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/diagnostics", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp := httptest.NewRecorder()
	s.Handler().ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/diagnostics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp = httptest.NewRecorder()
	s.Handler().ServeHTTP(resp, req)
	// Authorized, but no sink configured in this server.
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestDiagnosticsDeniedWithoutConfiguredKey(t *testing.T) {
	s := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/diagnostics", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "an empty configured key locks the route")
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, Config{})

	var body map[string]interface{}
	rec := getJSON(t, s, "/healthz", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, Config{CORSOrigins: []string{"https://dash.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSUnknownOriginGetsNoHeader(t *testing.T) {
	s := newTestServer(t, Config{CORSOrigins: []string{"https://dash.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "https://other.example.com")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := getJSON(t, s, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "botpulse_")
}
