package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"stagerun/pkg/params"
	"stagerun/pkg/resource"
)

const (
	DefaultRemoteWorkDir = "remote_work"
	DefaultParamsFile    = "params.run"
	DefaultParamsGroup   = "geometry"
)

// Definition is a decoded workflow file.
type Definition struct {
	Name string `toml:"name"`

	// ResourceLabels orders the pool. Empty means the order of Resources.
	ResourceLabels []string          `toml:"resource_labels"`
	Resources      []resource.Config `toml:"resources"`

	// RemoteWorkDir is joined with each resource's working_dir unless it
	// is absolute.
	RemoteWorkDir string     `toml:"remote_work_dir"`
	Params        ParamsFile `toml:"params"`
	Apps          []App      `toml:"apps"`

	// Form is the [form.<group>] tables in file order.
	Form *params.Mapping `toml:"-"`
}

// ParamsFile selects the form group written to the parameter file.
type ParamsFile struct {
	Group string `toml:"group"`
	File  string `toml:"file"`
}

// App is one shell-command task of the workflow.
type App struct {
	Name     string            `toml:"name"`
	Resource string            `toml:"resource"`
	Command  string            `toml:"command"`
	Params   map[string]string `toml:"params"`
	Inputs   []FileSpec        `toml:"inputs"`
	Outputs  []FileSpec        `toml:"outputs"`
	Stdout   string            `toml:"stdout"`
	Stderr   string            `toml:"stderr"`

	// Wait blocks the driver on this app before the next one is submitted.
	Wait bool `toml:"wait"`
	// Timeout bounds the wait; zero waits indefinitely.
	Timeout time.Duration `toml:"timeout"`
}

// FileSpec names a file or directory staged for an app. It lives at
// <local work dir>/<local>/<name> on the submit host and at
// <remote work dir>/<remote>/<name> on the resource.
type FileSpec struct {
	Name   string `toml:"name"`
	Local  string `toml:"local"`
	Remote string `toml:"remote"`
	// Contents stages the directory's entries instead of the directory.
	Contents bool `toml:"contents"`
}

type rawDefinition struct {
	Definition
	Form map[string]map[string]any `toml:"form"`
}

// Load reads and validates a workflow file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}
	def, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", filepath.Base(path), err)
	}
	return def, nil
}

// Parse decodes a workflow document and applies defaults.
func Parse(doc string) (*Definition, error) {
	var raw rawDefinition
	md, err := toml.Decode(doc, &raw)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}

	def := raw.Definition
	def.Form, err = params.FromTOML(md, "form", raw.Form)
	if err != nil {
		return nil, err
	}
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) applyDefaults() {
	if d.RemoteWorkDir == "" {
		d.RemoteWorkDir = DefaultRemoteWorkDir
	}
	if d.Params.File == "" {
		d.Params.File = DefaultParamsFile
	}
	if d.Params.Group == "" {
		d.Params.Group = DefaultParamsGroup
	}
	if len(d.ResourceLabels) == 0 {
		for _, r := range d.Resources {
			d.ResourceLabels = append(d.ResourceLabels, r.Label)
		}
	}
	if d.Form == nil {
		d.Form = &params.Mapping{}
	}
}

// Validate checks the definition without touching the filesystem.
func (d *Definition) Validate() error {
	for _, r := range d.Resources {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if d.Form.Len() > 0 {
		if _, ok := d.Form.Group(d.Params.Group); !ok {
			return fmt.Errorf("params group %q is not in the form", d.Params.Group)
		}
	}

	seen := make(map[string]bool, len(d.Apps))
	for i, app := range d.Apps {
		if app.Name == "" {
			return fmt.Errorf("apps[%d]: name is required", i)
		}
		if seen[app.Name] {
			return fmt.Errorf("apps[%d]: duplicate app name %q", i, app.Name)
		}
		seen[app.Name] = true
		if app.Command == "" {
			return fmt.Errorf("app %s: command is required", app.Name)
		}
		if app.Timeout < 0 {
			return fmt.Errorf("app %s: timeout must not be negative", app.Name)
		}
		for _, f := range append(append([]FileSpec(nil), app.Inputs...), app.Outputs...) {
			if f.Name == "" {
				return fmt.Errorf("app %s: file entries need a name", app.Name)
			}
		}
	}
	return nil
}

// ResourceFor returns the label app runs on: its own, or the first label.
func (d *Definition) ResourceFor(app App) (string, error) {
	if app.Resource != "" {
		return app.Resource, nil
	}
	if len(d.ResourceLabels) == 0 {
		return "", fmt.Errorf("app %s: no resource given and no resource labels defined", app.Name)
	}
	return d.ResourceLabels[0], nil
}

// ParamsPath resolves the parameter file against workDir.
func (d *Definition) ParamsPath(workDir string) string {
	if filepath.IsAbs(d.Params.File) {
		return d.Params.File
	}
	return filepath.Join(workDir, d.Params.File)
}

// ParamsLine renders the selected form group in parameter-file format. A
// missing group renders as an empty line.
func (d *Definition) ParamsLine() string {
	g, _ := d.Form.Group(d.Params.Group)
	return params.Line(g)
}

// ResourceConfigs returns Resources ordered by ResourceLabels. Resources not
// named by a label follow in file order.
func (d *Definition) ResourceConfigs() ([]resource.Config, error) {
	byLabel := make(map[string]resource.Config, len(d.Resources))
	for _, r := range d.Resources {
		byLabel[r.Label] = r
	}

	out := make([]resource.Config, 0, len(d.Resources))
	used := make(map[string]bool, len(d.Resources))
	for _, label := range d.ResourceLabels {
		r, ok := byLabel[label]
		if !ok {
			return nil, fmt.Errorf("resource label %q has no [[resources]] entry", label)
		}
		if used[label] {
			continue
		}
		used[label] = true
		out = append(out, r)
	}
	for _, r := range d.Resources {
		if !used[r.Label] {
			out = append(out, r)
		}
	}
	return out, nil
}
