// Package httpapi is the daemon's inbound command surface: a small JSON API
// for scheduling, cancelling, preferences and status.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"quicktimerd/internal/coordinator"
	"quicktimerd/internal/projection"
	"quicktimerd/internal/storage"
	logx "quicktimerd/pkg/logx"
)

const maxBodyBytes = 1 << 20

type Config struct {
	Addr  string
	Token string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8189"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	return c
}

type Server struct {
	cfg     Config
	log     logx.Logger
	coord   *coordinator.Coordinator
	prefs   *storage.PreferenceStore
	tracker *projection.Tracker

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
}

func NewServer(cfg Config, coord *coordinator.Coordinator, prefs *storage.PreferenceStore, tracker *projection.Tracker, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		cfg:     cfg.withDefaults(),
		log:     log,
		coord:   coord,
		prefs:   prefs,
		tracker: tracker,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Server) startLocked(ctx context.Context) error {
	_ = ctx
	if s.srv != nil {
		return nil
	}

	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("api server error", logx.String("addr", s.addr), logx.Err(err))
		}
	}()
	s.log.Info("api listening", logx.String("addr", s.addr))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv := s.srv
	ln := s.ln
	addr := s.addr
	s.srv = nil
	s.ln = nil
	s.addr = ""

	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("api shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.log.Info("api stopped", logx.String("addr", addr))
}

// Addr returns the bound listen address ("" when stopped).
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/api/v1/") {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}

	switch {
	case r.URL.Path == "/api/v1/run_action" && r.Method == http.MethodPost:
		s.handleRunAction(w, r)
	case r.URL.Path == "/api/v1/cancel_action" && r.Method == http.MethodPost:
		s.handleCancelAction(w, r)
	case r.URL.Path == "/api/v1/preferences" && r.Method == http.MethodGet:
		s.handleGetPreferences(w, r)
	case r.URL.Path == "/api/v1/preferences" && r.Method == http.MethodPost:
		s.handleSetPreferences(w, r)
	case r.URL.Path == "/api/v1/status" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.tracker.Snapshot())
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	want := "Bearer " + s.cfg.Token
	return subtle.ConstantTimeCompare([]byte(auth), []byte(want)) == 1
}

func (s *Server) handleRunAction(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := validateRunAction(body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	p := coordinator.Params{
		EntityID:      asString(body["entity_id"]),
		Action:        asString(body["action"]),
		Delay:         asInt(body["delay"]),
		Unit:          asString(body["unit"]),
		AtTime:        asString(body["at_time"]),
		TimeMode:      asString(body["time_mode"]),
		Notify:        asBool(body["notify"]),
		RunNow:        asBool(body["run_now"]),
		NotifyHA:      asBool(body["notify_ha"]),
		NotifyMobile:  asBool(body["notify_mobile"]),
		NotifyDevices: asStringSlice(body["notify_devices"]),
	}
	if err := s.coord.Schedule(r.Context(), p); err != nil {
		if errors.Is(err, coordinator.ErrInvalidParams) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.log.Error("schedule failed", logx.String("entity_id", p.EntityID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal", "failed to schedule action")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "scheduled",
		"entity_id": p.EntityID,
	})
}

func (s *Server) handleCancelAction(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	entityID := asString(body["entity_id"])
	if entityID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "entity_id is required")
		return
	}
	found := s.coord.Cancel(r.Context(), entityID)
	writeJSON(w, http.StatusOK, map[string]any{"found": found})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	if entityID := r.URL.Query().Get("entity_id"); entityID != "" {
		writeJSON(w, http.StatusOK, s.prefs.Get(entityID))
		return
	}
	writeJSON(w, http.StatusOK, s.prefs.All())
}

func (s *Server) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	entityID := asString(body["entity_id"])
	prefs, ok := body["preferences"].(map[string]any)
	if entityID == "" || !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "entity_id and preferences object are required")
		return
	}
	if err := s.prefs.Set(entityID, prefs); err != nil {
		s.log.Error("set preferences failed", logx.String("entity_id", entityID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal", "failed to save preferences")
		return
	}
	writeJSON(w, http.StatusOK, s.prefs.Get(entityID))
}

func decodeBody(r *http.Request) (map[string]any, error) {
	defer r.Body.Close()
	var body map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, errors.New("request body is not a JSON object")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asInt(v any) int {
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	case float64:
		return int(x)
	case int:
		return x
	default:
		return 0
	}
}
