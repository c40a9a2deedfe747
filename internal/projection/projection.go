// Package projection maintains a read-only view of the scheduled tasks for
// status consumers. The coordinator pushes the authoritative record set on
// every change; remaining seconds are recomputed at read time so countdowns
// decrease without task churn.
package projection

import (
	"sort"
	"sync"
	"time"

	"quicktimerd/internal/storage"
)

type TaskView struct {
	storage.TaskRecord
	RemainingSeconds int `json:"remaining_seconds"`
}

type Status struct {
	TaskCount         int                 `json:"task_count"`
	ScheduledEntities []string            `json:"scheduled_entities"`
	Tasks             map[string]TaskView `json:"tasks"`
}

type Tracker struct {
	now func() time.Time

	mu    sync.Mutex
	tasks map[string]storage.TaskRecord
}

func New(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now, tasks: map[string]storage.TaskRecord{}}
}

// Push replaces the tracked record set.
func (t *Tracker) Push(tasks map[string]storage.TaskRecord) {
	cp := make(map[string]storage.TaskRecord, len(tasks))
	for k, v := range tasks {
		cp[k] = v
	}
	t.mu.Lock()
	t.tasks = cp
	t.mu.Unlock()
}

// Snapshot returns the current view with fresh remaining_seconds, clamped
// at zero for tasks about to fire.
func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	st := Status{
		TaskCount:         len(t.tasks),
		ScheduledEntities: make([]string, 0, len(t.tasks)),
		Tasks:             make(map[string]TaskView, len(t.tasks)),
	}
	for entityID, rec := range t.tasks {
		remaining := 0
		if end, ok := rec.EndsAt(); ok {
			if d := end.Sub(now); d > 0 {
				remaining = int(d.Seconds())
			}
		}
		st.ScheduledEntities = append(st.ScheduledEntities, entityID)
		st.Tasks[entityID] = TaskView{TaskRecord: rec, RemainingSeconds: remaining}
	}
	sort.Strings(st.ScheduledEntities)
	return st
}

// TaskCount reports the tracked task count without building a snapshot.
func (t *Tracker) TaskCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}
