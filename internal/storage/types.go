package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (atomic JSON snapshots)
//   - "sqlite": SQLite database file
//
// If Driver is empty, "file" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Document names and schema versions. Each store versions its document
// independently so a breaking change in one does not wipe the other.
const (
	tasksDocument = "tasks"
	prefsDocument = "preferences"

	tasksVersion = 2
	prefsVersion = 1
)

// TaskRecord is the persisted form of one scheduled action. Times are
// RFC3339 strings so the on-disk document stays readable and portable.
type TaskRecord struct {
	TaskID   string `json:"task_id"`
	EntityID string `json:"entity_id"`
	Action   string `json:"action"`
	// OriginalAction is set for run-now tasks: the action that was executed
	// immediately, whose reverse is now scheduled as Action.
	OriginalAction string `json:"original_action,omitempty"`

	TimeMode string `json:"time_mode"` // "relative" or "absolute"
	Delay    int    `json:"delay,omitempty"`
	Unit     string `json:"unit,omitempty"`
	AtTime   string `json:"at_time,omitempty"` // "HH:MM", time mode only

	DelaySeconds  int    `json:"delay_seconds"`
	ScheduledTime string `json:"scheduled_time"` // RFC3339, when scheduled
	EndTime       string `json:"end_time"`       // RFC3339, when it fires

	RunNow       bool `json:"run_now,omitempty"`
	Notify       bool `json:"notify"`
	NotifyHA     bool `json:"notify_ha,omitempty"`
	NotifyMobile bool `json:"notify_mobile,omitempty"`

	// NotifyDevices carries caller-supplied push targets. The daemon's push
	// channel has a single configured destination, so these are stored and
	// surfaced for consumers rather than routed on.
	NotifyDevices []string `json:"notify_devices,omitempty"`
}

// EndsAt parses the record's end time, falling back to the scheduling time
// when no end time was recorded. ok is false for corrupt records.
func (r TaskRecord) EndsAt() (time.Time, bool) {
	raw := r.EndTime
	if raw == "" {
		raw = r.ScheduledTime
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Preferences is one entity's scheduling preference document. It is a free
// map so updates are true shallow merges: callers may store keys this
// daemon does not know about and they round-trip untouched. Well-known keys:
// last_action, last_time_mode, last_delay, last_unit, last_at_time,
// notify_ha, notify_mobile, history.
type Preferences = map[string]any

// HistoryLimit caps the per-entity schedule history.
const HistoryLimit = 3

// deepCopyValue clones JSON-shaped values (maps, slices, scalars) so reads
// never alias store-internal state.
func deepCopyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = deepCopyValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, vv := range x {
			s[i] = deepCopyValue(vv)
		}
		return s
	default:
		return x
	}
}

func deepCopyPrefs(p Preferences) Preferences {
	if p == nil {
		return nil
	}
	return deepCopyValue(p).(map[string]any)
}
