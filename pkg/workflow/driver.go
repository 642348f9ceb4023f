// Package workflow is the driver around the execution engine: it writes the
// parameter file, turns each app of a workflow file into a task, submits it,
// and blocks on the apps marked wait.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"stagerun/pkg/command"
	"stagerun/pkg/executor"
	"stagerun/pkg/models"
	"stagerun/pkg/params"
	"stagerun/pkg/resource"
	"stagerun/pkg/staging"
	"stagerun/pkg/task"
)

// Driver runs one workflow definition against an engine.
type Driver struct {
	def     *Definition
	engine  *executor.Engine
	workDir string
	host    string
	log     *zap.Logger
}

type Option func(*Driver)

func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// WithWorkDir sets the local work dir. Defaults to the process working dir.
func WithWorkDir(dir string) Option {
	return func(d *Driver) { d.workDir = dir }
}

// WithSubmitHost sets the host name written into source locators.
func WithSubmitHost(host string) Option {
	return func(d *Driver) { d.host = host }
}

// WithForm replaces the form mapping of the definition.
func WithForm(m *params.Mapping) Option {
	return func(d *Driver) {
		if m != nil {
			d.def.Form = m
		}
	}
}

func NewDriver(def *Definition, engine *executor.Engine, opts ...Option) *Driver {
	cp := *def
	d := &Driver{
		def:    &cp,
		engine: engine,
		host:   staging.DefaultHost,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workDir == "" {
		d.workDir, _ = os.Getwd()
	}
	return d
}

// AppResult is the outcome of one app. Err is nil for apps that succeeded.
type AppResult struct {
	App     string
	TaskID  string
	Awaited bool
	Result  *executor.Result
	Err     error
}

// Report lists app outcomes in submission order.
type Report struct {
	ParamsFile string
	Apps       []AppResult
}

// Failed returns the apps that did not succeed.
func (r *Report) Failed() []AppResult {
	var out []AppResult
	for _, a := range r.Apps {
		if a.Err != nil {
			out = append(out, a)
		}
	}
	return out
}

// Run writes the parameter file, then submits every app in order. It returns
// at the first app that cannot be submitted or that fails while awaited.
// Apps not marked wait are collected before Run returns, on every path; their
// failures are logged and reported but do not fail the run. If ctx is done
// first, still-running background apps are reported with their current
// snapshot and keep running on the engine.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	p, err := d.writeParams()
	if err != nil {
		return report, err
	}
	report.ParamsFile = p
	d.log.Info("params file written", zap.String("path", p))

	var background []pending
	defer func() { d.collect(ctx, report, background) }()

	for _, app := range d.def.Apps {
		t, err := d.build(ctx, app)
		if err != nil {
			return report, fmt.Errorf("app %s: %w", app.Name, err)
		}
		h, err := d.engine.Submit(ctx, t)
		if err != nil {
			return report, fmt.Errorf("app %s: %w", app.Name, err)
		}
		report.Apps = append(report.Apps, AppResult{App: app.Name, TaskID: t.ID().String(), Awaited: app.Wait})
		idx := len(report.Apps) - 1

		if !app.Wait {
			background = append(background, pending{idx: idx, handle: h})
			continue
		}

		d.log.Info("waiting for app", zap.String("app", app.Name))
		res, err := d.await(ctx, h, app)
		report.Apps[idx].Result, report.Apps[idx].Err = res, err
		if err != nil {
			return report, fmt.Errorf("app %s: %w", app.Name, err)
		}
		d.log.Info("app finished", zap.String("app", app.Name), zap.Duration("duration", res.Duration))
	}
	return report, nil
}

type pending struct {
	idx    int
	handle *executor.Handle
}

func (d *Driver) collect(ctx context.Context, report *Report, background []pending) {
	for _, p := range background {
		app := report.Apps[p.idx].App
		res, err := p.handle.Wait(ctx)
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			snap := p.handle.Snapshot()
			report.Apps[p.idx].Result = &snap
			d.log.Warn("background app still running", zap.String("app", app), zap.String("status", string(snap.Status)))
			continue
		}
		report.Apps[p.idx].Result, report.Apps[p.idx].Err = res, err
		if err != nil {
			d.log.Warn("background app failed", zap.String("app", app), zap.Error(err))
		}
	}
}

func (d *Driver) await(ctx context.Context, h *executor.Handle, app App) (*executor.Result, error) {
	if app.Timeout <= 0 {
		return h.Wait(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, app.Timeout)
	defer cancel()
	res, err := h.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", executor.ErrWaitTimeout, app.Timeout)
	}
	return res, err
}

// ParamsPath is where Run writes the parameter file.
func (d *Driver) ParamsPath() string { return d.def.ParamsPath(d.workDir) }

// ParamsLine renders the parameter file content.
func (d *Driver) ParamsLine() string { return d.def.ParamsLine() }

func (d *Driver) writeParams() (string, error) {
	p := d.ParamsPath()
	g, _ := d.def.Form.Group(d.def.Params.Group)
	if err := params.WriteFile(p, g); err != nil {
		return "", err
	}
	return p, nil
}

// RemoteWorkDir returns the app work dir on res.
func (d *Driver) RemoteWorkDir(res *resource.Resource) string {
	if path.IsAbs(d.def.RemoteWorkDir) {
		return path.Clean(d.def.RemoteWorkDir)
	}
	return path.Join(res.WorkingDir(), d.def.RemoteWorkDir)
}

// build resolves the app's file references and binds its command.
func (d *Driver) build(ctx context.Context, app App) (*task.Task, error) {
	label, err := d.def.ResourceFor(app)
	if err != nil {
		return nil, err
	}
	res, ok := d.engine.Pool().Get(label)
	if !ok {
		return nil, &executor.UnknownResourceError{Resource: label, Known: d.engine.Pool().Labels()}
	}

	remoteWork := d.RemoteWorkDir(res)
	if err := res.Transport.MkdirAll(ctx, remoteWork); err != nil {
		return nil, fmt.Errorf("create remote work dir: %w", err)
	}
	resolver := staging.NewResolver(d.host).WithRemote(res.Transport)

	inputs := make([]models.FileReference, 0, len(app.Inputs))
	for _, f := range app.Inputs {
		ref, err := d.resolve(ctx, resolver, f, remoteWork)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, ref)
	}

	outputs := make([]models.FileReference, 0, len(app.Outputs))
	for _, f := range app.Outputs {
		if err := os.MkdirAll(filepath.Join(d.workDir, f.Local), 0755); err != nil {
			return nil, fmt.Errorf("create local output root: %w", err)
		}
		if err := res.Transport.MkdirAll(ctx, path.Join(remoteWork, f.Remote)); err != nil {
			return nil, fmt.Errorf("create remote output root: %w", err)
		}
		ref, err := d.resolve(ctx, resolver, f, remoteWork)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, ref)
	}

	tmpl, err := command.Parse(app.Command)
	if err != nil {
		return nil, err
	}
	return task.New(task.Spec{
		Name:     app.Name,
		Template: tmpl,
		Resource: label,
		Params:   app.Params,
		Inputs:   inputs,
		Outputs:  outputs,
		Stdout:   remotePath(remoteWork, app.Stdout, app.Name+".stdout"),
		Stderr:   remotePath(remoteWork, app.Stderr, app.Name+".stderr"),
	})
}

func (d *Driver) resolve(ctx context.Context, r *staging.Resolver, f FileSpec, remoteWork string) (models.FileReference, error) {
	localRoot := filepath.Join(d.workDir, f.Local)
	remoteRoot := path.Join(remoteWork, f.Remote)
	if f.Contents {
		return r.ResolveContents(ctx, localRoot, f.Name, remoteRoot)
	}
	return r.Resolve(ctx, localRoot, f.Name, remoteRoot)
}

// remotePath places relative capture paths under the remote work dir.
func remotePath(remoteWork, p, fallback string) string {
	if p == "" {
		p = fallback
	}
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(remoteWork, p)
}
