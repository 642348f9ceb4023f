package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"stagerun/pkg/models"
	"stagerun/pkg/task"
)

// Result is the outcome of one task. It is only complete once the handle is
// terminal.
type Result struct {
	TaskID      uuid.UUID
	Name        string
	Resource    string
	Command     string
	Status      models.TaskStatus
	ExitCode    int
	Stdout      string
	Stderr      string
	StagedIn    []models.FileReference
	StagedOut   []models.FileReference
	LogURI      string
	SubmittedAt time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// Handle tracks one submitted task. The engine updates it from its own
// goroutine until the task is terminal; callers only read it.
type Handle struct {
	task *task.Task

	mu     sync.RWMutex
	status models.TaskStatus
	result Result
	err    error

	done chan struct{}
}

func newHandle(t *task.Task) *Handle {
	return &Handle{
		task:   t,
		status: models.TaskPending,
		result: Result{
			TaskID:      t.ID(),
			Name:        t.Name(),
			Resource:    t.Resource(),
			Command:     t.Command(),
			Status:      models.TaskPending,
			SubmittedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
}

func (h *Handle) ID() uuid.UUID    { return h.task.ID() }
func (h *Handle) Task() *task.Task { return h.task }
func (h *Handle) Name() string     { return h.task.Name() }
func (h *Handle) Resource() string { return h.task.Resource() }

// Status returns the current lifecycle state.
func (h *Handle) Status() models.TaskStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Done is closed when the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Poll returns the result without blocking. It returns ErrPending while the
// task is in flight.
func (h *Handle) Poll() (*Result, error) {
	select {
	case <-h.done:
		return h.outcome()
	default:
		return nil, ErrPending
	}
}

// Wait blocks until the task is terminal or ctx is done. Cancelling ctx only
// abandons the wait; the task keeps running.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.done:
		return h.outcome()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitTimeout is Wait with a deadline, returning ErrWaitTimeout if d elapses
// first. A non-positive d waits forever.
func (h *Handle) WaitTimeout(d time.Duration) (*Result, error) {
	if d <= 0 {
		return Await(h)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-h.done:
		return h.outcome()
	case <-timer.C:
		return nil, ErrWaitTimeout
	}
}

// Await blocks until h is terminal. A failed task returns its partial result
// together with a *StagingError or *ExecutionError.
func Await(h *Handle) (*Result, error) {
	<-h.done
	return h.outcome()
}

func (h *Handle) outcome() (*Result, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r := h.result
	return &r, h.err
}

// Snapshot returns a copy of the result as it stands now.
func (h *Handle) Snapshot() Result {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.result
}

func (h *Handle) update(fn func(r *Result)) {
	h.mu.Lock()
	fn(&h.result)
	h.mu.Unlock()
}

func (h *Handle) setRunning(at time.Time) {
	h.mu.Lock()
	h.status = models.TaskRunning
	h.result.Status = models.TaskRunning
	h.result.StartedAt = at
	h.mu.Unlock()
}

func (h *Handle) finish(status models.TaskStatus, err error) {
	h.mu.Lock()
	h.status = status
	h.result.Status = status
	h.result.CompletedAt = time.Now()
	if !h.result.StartedAt.IsZero() {
		h.result.Duration = h.result.CompletedAt.Sub(h.result.StartedAt)
	}
	h.err = err
	h.mu.Unlock()
	close(h.done)
}
