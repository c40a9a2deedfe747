package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	logx "quicktimerd/pkg/logx"
)

// PreferenceStore holds per-entity scheduling preferences: last-used form
// values, notification flags, and a short schedule history. Documents are
// open maps so unknown keys survive round trips.
type PreferenceStore struct {
	log     logx.Logger
	backend Backend

	mu    sync.Mutex
	prefs map[string]Preferences
}

// NewPreferenceStore loads the persisted preference document, applying the
// same discard-on-version-mismatch policy as the task store.
func NewPreferenceStore(b Backend, log logx.Logger) (*PreferenceStore, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &PreferenceStore{log: log, backend: b, prefs: map[string]Preferences{}}

	version, data, ok, err := b.Load(prefsDocument)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	if !ok {
		return s, nil
	}
	if version != prefsVersion {
		log.Warn("preference store version mismatch; discarding stored preferences",
			logx.Int("stored", version), logx.Int("current", prefsVersion))
		return s, nil
	}
	var prefs map[string]Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		log.Warn("preference store undecodable; discarding stored preferences", logx.Err(err))
		return s, nil
	}
	if prefs != nil {
		s.prefs = prefs
	}
	return s, nil
}

func (s *PreferenceStore) persistLocked() error {
	data, err := json.Marshal(s.prefs)
	if err != nil {
		return err
	}
	return s.backend.Save(prefsDocument, prefsVersion, data)
}

// Get returns a deep copy of one entity's preferences, or an empty map when
// none are stored.
func (s *PreferenceStore) Get(entityID string) Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[entityID]
	if !ok {
		return Preferences{}
	}
	return deepCopyPrefs(p)
}

// All returns a deep copy of every entity's preferences.
func (s *PreferenceStore) All() map[string]Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Preferences, len(s.prefs))
	for k, v := range s.prefs {
		out[k] = deepCopyPrefs(v)
	}
	return out
}

// Set shallow-merges updates into the entity's preferences: each top-level
// key in updates replaces the stored key wholesale, untouched keys stay. A
// "history" value longer than HistoryLimit is truncated.
func (s *PreferenceStore) Set(entityID string, updates Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prefs[entityID]
	if !ok {
		p = Preferences{}
		s.prefs[entityID] = p
	}
	for k, v := range updates {
		p[k] = deepCopyValue(v)
	}
	if h, ok := p["history"].([]any); ok && len(h) > HistoryLimit {
		p["history"] = h[:HistoryLimit]
	}

	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("persist preferences: %w", err)
	}
	return nil
}

// AddHistory inserts a schedule-history entry at the front of the entity's
// history, dropping any stored entry describing the same schedule shape and
// keeping at most HistoryLimit entries.
func (s *PreferenceStore) AddHistory(entityID string, entry map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prefs[entityID]
	if !ok {
		p = Preferences{}
		s.prefs[entityID] = p
	}

	var history []any
	if h, ok := p["history"].([]any); ok {
		history = h
	}

	kept := make([]any, 0, len(history)+1)
	kept = append(kept, deepCopyValue(entry))
	key := historyKey(entry)
	for _, item := range history {
		m, ok := item.(map[string]any)
		if ok && historyKey(m) == key {
			continue
		}
		kept = append(kept, item)
	}
	if len(kept) > HistoryLimit {
		kept = kept[:HistoryLimit]
	}
	p["history"] = kept

	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("persist preferences: %w", err)
	}
	return nil
}

// historyKey identifies a schedule shape for dedup. Numbers are stringified
// because decoded JSON yields float64 where callers pass int.
func historyKey(m map[string]any) string {
	f := func(k string) string {
		v, ok := m[k]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}
	return f("time_mode") + "|" + f("delay") + "|" + f("unit") + "|" + f("at_time") + "|" + f("action")
}
