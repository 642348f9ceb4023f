package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"stagerun/pkg/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// ExecutionStore keeps the history of task submissions.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *models.Execution) error

	// UpdateRunState marks an execution as running.
	UpdateRunState(ctx context.Context, id uuid.UUID, startedAt time.Time) error

	// UpdateResult marks an execution as finished.
	UpdateResult(ctx context.Context, id uuid.UUID, status models.TaskStatus, exitCode int, outputURI, errMsg string) error

	GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error)

	// ListExecutions returns the most recent executions first.
	ListExecutions(ctx context.Context, limit int) ([]models.Execution, error)
}

// EventSink receives task status transitions.
type EventSink interface {
	Publish(ctx context.Context, ev models.TaskEvent) error
}
