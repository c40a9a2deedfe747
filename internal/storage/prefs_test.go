package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	logx "quicktimerd/pkg/logx"
)

func TestPreferencesShallowMerge(t *testing.T) {
	t.Parallel()
	b := newFileBackend(t)
	s, err := NewPreferenceStore(b, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Set("light.kitchen", Preferences{
		"last_action": "off",
		"last_delay":  20,
		"custom_key":  "kept",
	}))
	require.NoError(t, s.Set("light.kitchen", Preferences{
		"last_action": "on",
	}))

	got := s.Get("light.kitchen")
	require.Equal(t, "on", got["last_action"])
	require.Equal(t, 20, got["last_delay"])
	require.Equal(t, "kept", got["custom_key"])
}

func TestPreferencesTopLevelKeysReplaceWholesale(t *testing.T) {
	t.Parallel()
	b := newFileBackend(t)
	s, err := NewPreferenceStore(b, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Set("light.kitchen", Preferences{
		"nested": map[string]any{"a": 1, "b": 2},
	}))
	require.NoError(t, s.Set("light.kitchen", Preferences{
		"nested": map[string]any{"c": 3},
	}))

	nested, ok := s.Get("light.kitchen")["nested"].(map[string]any)
	require.True(t, ok)
	require.NotContains(t, nested, "a")
	require.Equal(t, 3, nested["c"])
}

func TestPreferencesGetReturnsDeepCopy(t *testing.T) {
	t.Parallel()
	b := newFileBackend(t)
	s, err := NewPreferenceStore(b, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Set("light.kitchen", Preferences{
		"nested": map[string]any{"a": 1},
	}))

	got := s.Get("light.kitchen")
	got["nested"].(map[string]any)["a"] = 99
	got["injected"] = true

	fresh := s.Get("light.kitchen")
	require.Equal(t, 1, fresh["nested"].(map[string]any)["a"])
	require.NotContains(t, fresh, "injected")
}

func TestHistoryFrontInsertAndCap(t *testing.T) {
	t.Parallel()
	b := newFileBackend(t)
	s, err := NewPreferenceStore(b, logx.Nop())
	require.NoError(t, err)

	entries := []map[string]any{
		{"action": "on", "time_mode": "relative", "delay": 5, "unit": "minutes", "timestamp": "t1"},
		{"action": "off", "time_mode": "relative", "delay": 10, "unit": "minutes", "timestamp": "t2"},
		{"action": "toggle", "time_mode": "relative", "delay": 15, "unit": "minutes", "timestamp": "t3"},
		{"action": "off", "time_mode": "absolute", "at_time": "22:30", "timestamp": "t4"},
	}
	for _, e := range entries {
		require.NoError(t, s.AddHistory("light.kitchen", e))
	}

	history, ok := s.Get("light.kitchen")["history"].([]any)
	require.True(t, ok)
	require.Len(t, history, HistoryLimit)
	// Most recent first; the oldest entry fell off.
	require.Equal(t, "t4", history[0].(map[string]any)["timestamp"])
	require.Equal(t, "t3", history[1].(map[string]any)["timestamp"])
	require.Equal(t, "t2", history[2].(map[string]any)["timestamp"])
}

func TestHistoryDedupsSameShape(t *testing.T) {
	t.Parallel()
	b := newFileBackend(t)
	s, err := NewPreferenceStore(b, logx.Nop())
	require.NoError(t, err)

	first := map[string]any{"action": "off", "time_mode": "relative", "delay": 20, "unit": "minutes", "timestamp": "t1"}
	other := map[string]any{"action": "on", "time_mode": "relative", "delay": 5, "unit": "minutes", "timestamp": "t2"}
	repeat := map[string]any{"action": "off", "time_mode": "relative", "delay": 20, "unit": "minutes", "timestamp": "t3"}

	require.NoError(t, s.AddHistory("light.kitchen", first))
	require.NoError(t, s.AddHistory("light.kitchen", other))
	require.NoError(t, s.AddHistory("light.kitchen", repeat))

	history := s.Get("light.kitchen")["history"].([]any)
	require.Len(t, history, 2)
	// The repeated shape moved to the front with its new timestamp.
	require.Equal(t, "t3", history[0].(map[string]any)["timestamp"])
	require.Equal(t, "t2", history[1].(map[string]any)["timestamp"])
}

func TestSetTruncatesOversizedHistory(t *testing.T) {
	t.Parallel()
	b := newFileBackend(t)
	s, err := NewPreferenceStore(b, logx.Nop())
	require.NoError(t, err)

	oversized := []any{
		map[string]any{"timestamp": "t1"},
		map[string]any{"timestamp": "t2"},
		map[string]any{"timestamp": "t3"},
		map[string]any{"timestamp": "t4"},
		map[string]any{"timestamp": "t5"},
	}
	require.NoError(t, s.Set("light.kitchen", Preferences{"history": oversized}))

	history := s.Get("light.kitchen")["history"].([]any)
	require.Len(t, history, HistoryLimit)
	require.Equal(t, "t1", history[0].(map[string]any)["timestamp"])
}

func TestPreferencesRoundTrip(t *testing.T) {
	t.Parallel()
	b := newFileBackend(t)
	s, err := NewPreferenceStore(b, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Set("light.kitchen", Preferences{"last_action": "off"}))

	s2, err := NewPreferenceStore(b, logx.Nop())
	require.NoError(t, err)
	require.Equal(t, "off", s2.Get("light.kitchen")["last_action"])
}

func TestPreferencesVersionMismatchDiscards(t *testing.T) {
	t.Parallel()
	b := newFileBackend(t)
	require.NoError(t, b.Save(prefsDocument, prefsVersion+1, []byte(`{"light.kitchen":{"last_action":"off"}}`)))

	s, err := NewPreferenceStore(b, logx.Nop())
	require.NoError(t, err)
	require.Empty(t, s.Get("light.kitchen"))
	require.Empty(t, s.All())
}
