// Package memory is an in-process ExecutionStore and EventSink, used when no
// database is configured and in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"stagerun/pkg/models"
	"stagerun/pkg/storage"
)

type Store struct {
	mu     sync.RWMutex
	execs  map[uuid.UUID]*models.Execution
	events []models.TaskEvent
}

func NewStore() *Store {
	return &Store{execs: make(map[uuid.UUID]*models.Execution)}
}

func (s *Store) CreateExecution(ctx context.Context, exec *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	if _, ok := s.execs[exec.ID]; ok {
		return storage.ErrConflict
	}
	now := time.Now()
	cp := *exec
	cp.CreatedAt, cp.UpdatedAt = now, now
	if cp.Status == "" {
		cp.Status = models.TaskPending
	}
	s.execs[exec.ID] = &cp
	return nil
}

func (s *Store) UpdateRunState(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.execs[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.Status = models.TaskRunning
	e.StartedAt = &startedAt
	e.UpdatedAt = time.Now()
	return nil
}

func (s *Store) UpdateResult(ctx context.Context, id uuid.UUID, status models.TaskStatus, exitCode int, outputURI, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.execs[id]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now()
	e.Status = status
	e.ExitCode = exitCode
	e.OutputURI = outputURI
	e.Error = errMsg
	e.CompletedAt = &now
	e.UpdatedAt = now
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.execs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *Store) ListExecutions(ctx context.Context, limit int) ([]models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Execution, 0, len(s.execs))
	for _, e := range s.execs {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Publish records the event in memory.
func (s *Store) Publish(ctx context.Context, ev models.TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns the recorded events for one task, in publish order.
func (s *Store) Events(taskID uuid.UUID) []models.TaskEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.TaskEvent
	for _, ev := range s.events {
		if ev.TaskID == taskID {
			out = append(out, ev)
		}
	}
	return out
}
