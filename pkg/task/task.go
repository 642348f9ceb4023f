// Package task defines the immutable task descriptor submitted to the engine.
package task

import (
	"fmt"
	"path"
	"regexp"

	"github.com/google/uuid"

	"stagerun/pkg/command"
	"stagerun/pkg/models"
	"stagerun/pkg/staging"
)

const maxNameLength = 128

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidationError represents an invalid descriptor field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Spec is everything needed to build a Task.
type Spec struct {
	Name     string
	Template *command.Template
	Resource string
	Params   map[string]string
	Inputs   []models.FileReference
	Outputs  []models.FileReference
	// Stdout and Stderr are paths on the resource. Relative paths are joined
	// with the resource working directory; empty means <name>.stdout/.stderr.
	Stdout string
	Stderr string
}

// Task is a bound, immutable unit of remote work.
type Task struct {
	id       uuid.UUID
	name     string
	resource string
	tmpl     string
	command  string
	params   map[string]string
	inputs   []models.FileReference
	outputs  []models.FileReference
	stdout   string
	stderr   string
}

// New validates spec and renders its command once. Template references that
// cannot be bound fail here with a *command.TemplateBindingError.
func New(spec Spec) (*Task, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}

	in := destinations(spec.Inputs)
	out := destinations(spec.Outputs)
	rendered, err := spec.Template.Bind(spec.Params, in, out)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", spec.Name, err)
	}

	params := make(map[string]string, len(spec.Params))
	for k, v := range spec.Params {
		params[k] = v
	}

	return &Task{
		id:       uuid.New(),
		name:     spec.Name,
		resource: spec.Resource,
		tmpl:     spec.Template.String(),
		command:  rendered,
		params:   params,
		inputs:   append([]models.FileReference(nil), spec.Inputs...),
		outputs:  append([]models.FileReference(nil), spec.Outputs...),
		stdout:   spec.Stdout,
		stderr:   spec.Stderr,
	}, nil
}

func validate(spec Spec) error {
	if spec.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(spec.Name) > maxNameLength {
		return &ValidationError{Field: "name", Message: "name exceeds maximum length"}
	}
	if !namePattern.MatchString(spec.Name) {
		return &ValidationError{Field: "name", Message: "name may only contain letters, digits, '_', '.' and '-'"}
	}
	if spec.Resource == "" {
		return &ValidationError{Field: "resource", Message: "target resource is required"}
	}
	if spec.Template == nil {
		return &ValidationError{Field: "command", Message: "command template is required"}
	}
	for _, set := range []struct {
		field string
		refs  []models.FileReference
	}{{"inputs", spec.Inputs}, {"outputs", spec.Outputs}} {
		for i, ref := range set.refs {
			if _, err := staging.ParseLocator(ref.Source); err != nil {
				return &ValidationError{Field: fmt.Sprintf("%s[%d]", set.field, i), Message: err.Error()}
			}
			if !path.IsAbs(ref.Destination) {
				return &ValidationError{Field: fmt.Sprintf("%s[%d]", set.field, i), Message: "destination must be absolute"}
			}
		}
	}
	return nil
}

func destinations(refs []models.FileReference) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Destination
	}
	return out
}

func (t *Task) ID() uuid.UUID    { return t.id }
func (t *Task) Name() string     { return t.name }
func (t *Task) Resource() string { return t.resource }
func (t *Task) Template() string { return t.tmpl }
func (t *Task) Command() string  { return t.command }
func (t *Task) Stdout() string   { return t.stdout }
func (t *Task) Stderr() string   { return t.stderr }

// Params returns a copy of the direct parameters.
func (t *Task) Params() map[string]string {
	out := make(map[string]string, len(t.params))
	for k, v := range t.params {
		out[k] = v
	}
	return out
}

// Inputs returns a copy of the input references, in template order.
func (t *Task) Inputs() []models.FileReference {
	return append([]models.FileReference(nil), t.inputs...)
}

// Outputs returns a copy of the output references, in template order.
func (t *Task) Outputs() []models.FileReference {
	return append([]models.FileReference(nil), t.outputs...)
}
