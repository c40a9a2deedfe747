package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	logx "quicktimerd/pkg/logx"
)

func newSQLiteBackend(t *testing.T) Backend {
	t.Helper()
	b, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "store.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSQLiteTaskStoreRoundTrip(t *testing.T) {
	t.Parallel()
	b := newSQLiteBackend(t)

	s, err := NewTaskStore(b, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Put(sampleTask("light.kitchen")))
	require.NoError(t, s.Put(sampleTask("switch.heater")))

	s2, err := NewTaskStore(b, logx.Nop())
	require.NoError(t, err)
	require.Equal(t, 2, s2.Count())

	rec, ok := s2.Get("light.kitchen")
	require.True(t, ok)
	require.Equal(t, "off", rec.Action)
	require.Equal(t, 1200, rec.DelaySeconds)
}

func TestSQLiteTaskStoreVersionMismatchDiscards(t *testing.T) {
	t.Parallel()
	b := newSQLiteBackend(t)
	require.NoError(t, b.Save(tasksDocument, tasksVersion+1, []byte(`{"light.kitchen":{"action":"off"}}`)))

	s, err := NewTaskStore(b, logx.Nop())
	require.NoError(t, err)
	require.Equal(t, 0, s.Count())
}

func TestSQLitePreferenceStoreRoundTrip(t *testing.T) {
	t.Parallel()
	b := newSQLiteBackend(t)

	s, err := NewPreferenceStore(b, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Set("light.kitchen", Preferences{"last_action": "off", "delay": float64(20)}))

	s2, err := NewPreferenceStore(b, logx.Nop())
	require.NoError(t, err)
	prefs := s2.Get("light.kitchen")
	require.Equal(t, "off", prefs["last_action"])
	require.Equal(t, float64(20), prefs["delay"])
}

func TestSQLiteLoadMissingDocument(t *testing.T) {
	t.Parallel()
	b := newSQLiteBackend(t)

	_, _, ok, err := b.Load("never-written")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteSaveReplacesDocument(t *testing.T) {
	t.Parallel()
	b := newSQLiteBackend(t)

	require.NoError(t, b.Save("doc", 1, []byte(`{"a":1}`)))
	require.NoError(t, b.Save("doc", 2, []byte(`{"a":2}`)))

	version, data, ok, err := b.Load("doc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, version)
	require.JSONEq(t, `{"a":2}`, string(data))
}

func TestSQLiteReopenSeesData(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Driver: "sqlite", Path: filepath.Join(dir, "store.db")}

	b, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Save("doc", 1, []byte(`{"a":1}`)))
	require.NoError(t, b.Close())

	b2, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer b2.Close()
	version, _, ok, err := b2.Load("doc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, version)

	// Migrations ran twice against the same file without complaint.
	_, err = os.Stat(cfg.Path)
	require.NoError(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"postgres", "sqlite3"} {
		_, err := Open(Config{Driver: driver, Path: t.TempDir()}, logx.Nop())
		require.Error(t, err, driver)
	}
}
