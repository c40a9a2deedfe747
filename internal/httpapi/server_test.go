package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quicktimerd/internal/coordinator"
	"quicktimerd/internal/eventbus"
	"quicktimerd/internal/projection"
	"quicktimerd/internal/storage"
	logx "quicktimerd/pkg/logx"
)

type nopExec struct{}

func (nopExec) Execute(context.Context, string, string) error { return nil }

func newTestServer(t *testing.T, cfg Config) (*Server, *storage.TaskStore) {
	t.Helper()
	backend, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	tasks, err := storage.NewTaskStore(backend, logx.Nop())
	require.NoError(t, err)
	prefs, err := storage.NewPreferenceStore(backend, logx.Nop())
	require.NoError(t, err)

	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	tracker := projection.New(func() time.Time { return now })
	coord := coordinator.New(coordinator.Deps{
		Tasks:      tasks,
		Prefs:      prefs,
		Executor:   nopExec{},
		Projection: tracker,
		Bus:        eventbus.New(),
		Log:        logx.Nop(),
		Now:        func() time.Time { return now },
	})
	t.Cleanup(func() { coord.Stop(context.Background()) })

	return NewServer(cfg, coord, prefs, tracker, logx.Nop()), tasks
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRunActionSchedulesTask(t *testing.T) {
	t.Parallel()
	srv, tasks := newTestServer(t, Config{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/run_action", map[string]any{
		"entity_id": "light.kitchen",
		"action":    "off",
		"delay":     20,
		"unit":      "minutes",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "scheduled", resp["status"])

	stored, ok := tasks.Get("light.kitchen")
	require.True(t, ok)
	require.Equal(t, 1200, stored.DelaySeconds)
}

func TestRunActionRejectsBadPayloads(t *testing.T) {
	t.Parallel()
	srv, tasks := newTestServer(t, Config{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing action", map[string]any{"entity_id": "light.kitchen"}},
		{"unknown action", map[string]any{"entity_id": "light.kitchen", "action": "explode"}},
		{"delay zero", map[string]any{"entity_id": "light.kitchen", "action": "off", "delay": 0}},
		{"delay too large", map[string]any{"entity_id": "light.kitchen", "action": "off", "delay": 90000}},
		{"bad unit", map[string]any{"entity_id": "light.kitchen", "action": "off", "unit": "days"}},
		{"bad at_time", map[string]any{"entity_id": "light.kitchen", "action": "off", "time_mode": "absolute", "at_time": "25:99"}},
		{"bad entity id", map[string]any{"entity_id": "kitchen", "action": "off"}},
		{"unknown field", map[string]any{"entity_id": "light.kitchen", "action": "off", "bogus": 1}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/v1/run_action", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	require.Equal(t, 0, tasks.Count())
}

func TestRunActionRejectsNonJSONBody(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/run_action", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelAction(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/run_action", map[string]any{
		"entity_id": "light.kitchen",
		"action":    "off",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/cancel_action", map[string]any{"entity_id": "light.kitchen"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["found"])

	// Cancelling again reports found=false; the operation stays a 200.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/cancel_action", map[string]any{"entity_id": "light.kitchen"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, false, resp["found"])
}

func TestPreferencesSetAndGet(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/preferences", map[string]any{
		"entity_id":   "light.kitchen",
		"preferences": map[string]any{"last_action": "off", "notify_ha": true},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/preferences?entity_id=light.kitchen", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var prefs map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prefs))
	require.Equal(t, "off", prefs["last_action"])

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/preferences", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Contains(t, all, "light.kitchen")
}

func TestPreferencesRejectsMissingFields(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/preferences", map[string]any{"entity_id": "light.kitchen"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusSnapshot(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/run_action", map[string]any{
		"entity_id": "light.kitchen",
		"action":    "off",
		"delay":     10,
		"unit":      "minutes",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		TaskCount         int      `json:"task_count"`
		ScheduledEntities []string `json:"scheduled_entities"`
		Tasks             map[string]struct {
			Action           string `json:"action"`
			RemainingSeconds int    `json:"remaining_seconds"`
		} `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, 1, status.TaskCount)
	require.Equal(t, []string{"light.kitchen"}, status.ScheduledEntities)
	require.Equal(t, "off", status.Tasks["light.kitchen"].Action)
	require.Equal(t, 600, status.Tasks["light.kitchen"].RemainingSeconds)
}

func TestBearerTokenAuth(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{Token: "sekrit"})

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	// Health stays open for liveness probes.
	rec = doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
