package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	logx "quicktimerd/pkg/logx"
)

// TaskStore holds the scheduled-task records, keyed by entity id. Every
// mutation is written through to the backend before it returns, so a crash
// never observes an armed timer without a matching record.
type TaskStore struct {
	log     logx.Logger
	backend Backend

	mu    sync.Mutex
	tasks map[string]TaskRecord
}

// NewTaskStore loads the persisted task document. A version mismatch or an
// undecodable document discards the stored data with a warning; the
// coordinator's restore pass then simply finds nothing to replay.
func NewTaskStore(b Backend, log logx.Logger) (*TaskStore, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &TaskStore{log: log, backend: b, tasks: map[string]TaskRecord{}}

	version, data, ok, err := b.Load(tasksDocument)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	if !ok {
		return s, nil
	}
	if version != tasksVersion {
		log.Warn("task store version mismatch; discarding stored tasks",
			logx.Int("stored", version), logx.Int("current", tasksVersion))
		return s, nil
	}
	var tasks map[string]TaskRecord
	if err := json.Unmarshal(data, &tasks); err != nil {
		log.Warn("task store undecodable; discarding stored tasks", logx.Err(err))
		return s, nil
	}
	if tasks != nil {
		s.tasks = tasks
	}
	return s, nil
}

func (s *TaskStore) persistLocked() error {
	data, err := json.Marshal(s.tasks)
	if err != nil {
		return err
	}
	return s.backend.Save(tasksDocument, tasksVersion, data)
}

// Put upserts the record for rec.EntityID.
func (s *TaskStore) Put(rec TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[rec.EntityID] = rec
	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("persist tasks: %w", err)
	}
	return nil
}

// Remove deletes the record for entityID and reports whether one existed.
// Removing an absent key persists nothing.
func (s *TaskStore) Remove(entityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[entityID]; !ok {
		return false, nil
	}
	delete(s.tasks, entityID)
	if err := s.persistLocked(); err != nil {
		return true, fmt.Errorf("persist tasks: %w", err)
	}
	return true, nil
}

func (s *TaskStore) Get(entityID string) (TaskRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[entityID]
	return rec, ok
}

func (s *TaskStore) Has(entityID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[entityID]
	return ok
}

// All returns a copy of every record.
func (s *TaskStore) All() map[string]TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TaskRecord, len(s.tasks))
	for k, v := range s.tasks {
		out[k] = v
	}
	return out
}

func (s *TaskStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
