package executor

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stagerun/pkg/executor/runner"
	"stagerun/pkg/metrics"
	"stagerun/pkg/models"
	tracing "stagerun/pkg/observability"
	"stagerun/pkg/resource"
	"stagerun/pkg/staging"
	"stagerun/pkg/storage"
	"stagerun/pkg/task"
)

// sideEffectTimeout bounds each store, event and log archive call.
const sideEffectTimeout = 10 * time.Second

// Engine owns the resource pool and runs submitted tasks on it.
type Engine struct {
	pool   *resource.Pool
	log    *zap.Logger
	store  storage.ExecutionStore
	events storage.EventSink
	logs   storage.LogStore
	tracer trace.Tracer

	mu      sync.RWMutex
	handles map[uuid.UUID]*Handle
	order   []*Handle
	wg      sync.WaitGroup
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithStore records every submission in s.
func WithStore(s storage.ExecutionStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithEvents publishes status transitions to s.
func WithEvents(s storage.EventSink) Option {
	return func(e *Engine) { e.events = s }
}

// WithLogStore archives each task's stdout and stderr once it finishes.
func WithLogStore(s storage.LogStore) Option {
	return func(e *Engine) { e.logs = s }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine builds an engine over a fixed pool.
func NewEngine(pool *resource.Pool, opts ...Option) *Engine {
	e := &Engine{
		pool:    pool,
		log:     zap.NewNop(),
		handles: make(map[uuid.UUID]*Handle),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Pool returns the engine's resource pool.
func (e *Engine) Pool() *resource.Pool { return e.pool }

// Submit dispatches t to its resource and returns immediately. An unknown
// resource fails here, before anything is staged. Every later failure is
// reported through the handle.
func (e *Engine) Submit(ctx context.Context, t *task.Task) (*Handle, error) {
	if t == nil {
		return nil, errors.New("submit: nil task")
	}
	res, ok := e.pool.Get(t.Resource())
	if !ok {
		return nil, &UnknownResourceError{Resource: t.Resource(), Known: e.pool.Labels()}
	}

	h := newHandle(t)
	e.mu.Lock()
	if _, dup := e.handles[t.ID()]; dup {
		e.mu.Unlock()
		return nil, fmt.Errorf("submit %s: %w", t.Name(), ErrAlreadySubmitted)
	}
	e.handles[t.ID()] = h
	e.order = append(e.order, h)
	e.mu.Unlock()

	log := e.log.With(
		zap.String("task", t.Name()),
		zap.String("task_id", t.ID().String()),
		zap.String("resource", res.Label()),
	)
	log.Info("task submitted", zap.String("command", t.Command()))
	metrics.TasksSubmitted.WithLabelValues(res.Label()).Inc()

	// The caller's context scopes the submission, not the task. Tasks are not
	// cancellable once submitted.
	runCtx := context.WithoutCancel(ctx)
	stdout, stderr := e.capturePaths(res, t)
	e.record(runCtx, log, func(ctx context.Context) error {
		return e.store.CreateExecution(ctx, &models.Execution{
			ID:         t.ID(),
			TaskName:   t.Name(),
			Resource:   res.Label(),
			Command:    t.Command(),
			Status:     models.TaskPending,
			StdoutPath: stdout,
			StderrPath: stderr,
			Inputs:     t.Inputs(),
			Outputs:    t.Outputs(),
		})
	})
	e.publish(runCtx, log, h, models.TaskPending, "")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(runCtx, log, res, h)
	}()
	return h, nil
}

// Handles returns every handle in submission order.
func (e *Engine) Handles() []*Handle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Handle, len(e.order))
	copy(out, e.order)
	return out
}

// Lookup finds a handle by task ID.
func (e *Engine) Lookup(id uuid.UUID) (*Handle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handles[id]
	return h, ok
}

// Drain waits until every submitted task is terminal or ctx is done.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) execute(ctx context.Context, log *zap.Logger, res *resource.Resource, h *Handle) {
	t := h.Task()
	stdout, stderr := e.capturePaths(res, t)
	h.update(func(r *Result) {
		r.Stdout, r.Stderr = stdout, stderr
	})

	if err := e.stageInputs(ctx, log, res, h); err != nil {
		e.fail(ctx, log, h, err)
		return
	}

	started := time.Now()
	h.setRunning(started)
	log.Info("task running")
	e.record(ctx, log, func(ctx context.Context) error {
		return e.store.UpdateRunState(ctx, t.ID(), started)
	})
	e.publish(ctx, log, h, models.TaskRunning, "")

	out := e.run(ctx, res, h, stdout, stderr)
	e.archiveLogs(ctx, log, res, h, stdout, stderr)

	if out.ExitCode != 0 || out.Error != nil {
		e.fail(ctx, log, h, &ExecutionError{
			Task:     t.Name(),
			ExitCode: out.ExitCode,
			Stdout:   stdout,
			Stderr:   stderr,
			Err:      out.Error,
		})
		return
	}
	h.update(func(r *Result) { r.ExitCode = out.ExitCode })

	if err := e.stageOutputs(ctx, log, res, h); err != nil {
		e.fail(ctx, log, h, err)
		return
	}

	h.finish(models.TaskSucceeded, nil)
	snap := h.Snapshot()
	log.Info("task succeeded", zap.Duration("duration", snap.Duration))
	metrics.RecordFinished(res.Label(), string(models.TaskSucceeded), snap.Duration.Seconds())
	e.record(ctx, log, func(ctx context.Context) error {
		return e.store.UpdateResult(ctx, t.ID(), models.TaskSucceeded, 0, snap.LogURI, "")
	})
	e.publish(ctx, log, h, models.TaskSucceeded, "")
}

// capturePaths resolves the stdout and stderr files on the resource.
func (e *Engine) capturePaths(res *resource.Resource, t *task.Task) (string, string) {
	resolve := func(p, suffix string) string {
		if p == "" {
			p = t.Name() + suffix
		}
		if path.IsAbs(p) {
			return path.Clean(p)
		}
		return path.Join(res.WorkingDir(), p)
	}
	return resolve(t.Stdout(), ".stdout"), resolve(t.Stderr(), ".stderr")
}

func (e *Engine) stageInputs(ctx context.Context, log *zap.Logger, res *resource.Resource, h *Handle) error {
	t := h.Task()
	inputs := t.Inputs()
	if len(inputs) == 0 {
		return nil
	}

	ctx, span := tracing.StartTaskSpan(ctx, e.tracer, "stage_in", t.ID().String(), t.Name(), res.Label())
	start := time.Now()

	var (
		mu    sync.Mutex
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range inputs {
		g.Go(func() error {
			loc, err := staging.ParseLocator(ref.Source)
			if err != nil {
				return &StagingError{Task: t.Name(), Direction: DirectionInput, Ref: ref, Err: err}
			}
			n, err := res.Transport.Push(gctx, loc.Path, ref.Destination, loc.Mode)
			if err != nil {
				return &StagingError{Task: t.Name(), Direction: DirectionInput, Ref: ref, Err: err}
			}
			log.Debug("input staged", zap.Stringer("ref", ref), zap.Int64("bytes", n))
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	metrics.RecordStaging(res.Label(), string(DirectionInput), total, time.Since(start).Seconds(), err)
	tracing.EndSpan(span, err)
	if err == nil {
		h.update(func(r *Result) { r.StagedIn = inputs })
	}
	return err
}

// stageOutputs copies each output root back in order. A root the command did
// not create is a staging failure.
func (e *Engine) stageOutputs(ctx context.Context, log *zap.Logger, res *resource.Resource, h *Handle) error {
	t := h.Task()
	outputs := t.Outputs()
	if len(outputs) == 0 {
		return nil
	}

	ctx, span := tracing.StartTaskSpan(ctx, e.tracer, "stage_out", t.ID().String(), t.Name(), res.Label())
	start := time.Now()

	var (
		total  int64
		staged []models.FileReference
		err    error
	)
	for _, ref := range outputs {
		var loc staging.Locator
		loc, err = staging.ParseLocator(ref.Source)
		if err != nil {
			err = &StagingError{Task: t.Name(), Direction: DirectionOutput, Ref: ref, Err: err}
			break
		}
		var n int64
		n, err = res.Transport.Pull(ctx, ref.Destination, loc.Path, loc.Mode)
		total += n
		if err != nil {
			err = &StagingError{Task: t.Name(), Direction: DirectionOutput, Ref: ref, Err: err}
			break
		}
		log.Debug("output staged", zap.Stringer("ref", ref), zap.Int64("bytes", n))
		staged = append(staged, ref)
	}

	metrics.RecordStaging(res.Label(), string(DirectionOutput), total, time.Since(start).Seconds(), err)
	tracing.EndSpan(span, err)
	h.update(func(r *Result) { r.StagedOut = staged })
	return err
}

func (e *Engine) run(ctx context.Context, res *resource.Resource, h *Handle, stdout, stderr string) runner.Result {
	t := h.Task()
	ctx, span := tracing.StartTaskSpan(ctx, e.tracer, "run", t.ID().String(), t.Name(), res.Label())

	metrics.TasksRunning.WithLabelValues(res.Label()).Inc()
	defer metrics.TasksRunning.WithLabelValues(res.Label()).Dec()

	var out runner.Result
	if err := res.Transport.MkdirAll(ctx, res.WorkingDir()); err != nil {
		out = runner.Result{ExitCode: -1, Error: fmt.Errorf("create working dir: %w", err)}
	} else {
		out = res.Transport.Run(ctx, runner.Spec{
			Command: t.Command(),
			WorkDir: res.WorkingDir(),
			Stdout:  stdout,
			Stderr:  stderr,
		})
	}
	h.update(func(r *Result) { r.ExitCode = out.ExitCode })

	var spanErr error
	if out.ExitCode != 0 || out.Error != nil {
		spanErr = fmt.Errorf("exit code %d: %v", out.ExitCode, out.Error)
	}
	tracing.EndSpan(span, spanErr)
	return out
}

func (e *Engine) archiveLogs(ctx context.Context, log *zap.Logger, res *resource.Resource, h *Handle, stdout, stderr string) {
	if e.logs == nil {
		return
	}
	// Capture files may be missing if the command never launched.
	outData, _ := res.Transport.ReadFile(ctx, stdout)
	errData, _ := res.Transport.ReadFile(ctx, stderr)

	ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()
	uri, err := e.logs.Store(ctx, storage.LogEntry{
		ExecutionID: h.ID(),
		TaskName:    h.Name(),
		Stdout:      outData,
		Stderr:      errData,
	})
	if err != nil {
		log.Warn("failed to archive task logs", zap.Error(err))
		return
	}
	h.update(func(r *Result) { r.LogURI = uri })
}

func (e *Engine) fail(ctx context.Context, log *zap.Logger, h *Handle, err error) {
	h.finish(models.TaskFailed, err)
	snap := h.Snapshot()
	log.Error("task failed", zap.Error(err))
	metrics.RecordFinished(h.Resource(), string(models.TaskFailed), snap.Duration.Seconds())
	e.record(ctx, log, func(ctx context.Context) error {
		return e.store.UpdateResult(ctx, h.ID(), models.TaskFailed, snap.ExitCode, snap.LogURI, err.Error())
	})
	e.publish(ctx, log, h, models.TaskFailed, err.Error())
}

// record runs fn against the store, if any. Store failures never fail a task.
func (e *Engine) record(ctx context.Context, log *zap.Logger, fn func(context.Context) error) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn("failed to record execution", zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, log *zap.Logger, h *Handle, status models.TaskStatus, msg string) {
	if e.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()
	err := e.events.Publish(ctx, models.TaskEvent{
		TaskID:   h.ID(),
		TaskName: h.Name(),
		Resource: h.Resource(),
		Status:   status,
		Message:  msg,
		At:       time.Now(),
	})
	if err != nil {
		log.Warn("failed to publish task event", zap.String("status", string(status)), zap.Error(err))
	}
}
