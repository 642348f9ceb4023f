package task_test

import (
	"errors"
	"testing"

	"stagerun/pkg/command"
	"stagerun/pkg/models"
	. "stagerun/pkg/task"
)

func ref(dst string) models.FileReference {
	return models.FileReference{Source: "file://usercontainer/local" + dst, Destination: dst}
}

func TestNew_RendersOnce(t *testing.T) {
	params := map[string]string{"runopt": "hello workflow"}
	inputs := []models.FileReference{ref("/r/test_input")}
	outputs := []models.FileReference{ref("/r/test_output")}

	tk, err := New(Spec{
		Name:     "start_mlflow",
		Template: command.MustParse("echo {outputs[0]} {inputs[0]} {runopt}"),
		Resource: "gpu",
		Params:   params,
		Inputs:   inputs,
		Outputs:  outputs,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	want := "echo /r/test_output /r/test_input 'hello workflow'"
	if tk.Command() != want {
		t.Errorf("Command() = %q, want %q", tk.Command(), want)
	}

	// Mutating the caller's values must not leak into the descriptor.
	params["runopt"] = "changed"
	inputs[0].Destination = "/elsewhere"
	if tk.Params()["runopt"] != "hello workflow" {
		t.Error("params were not copied")
	}
	if tk.Inputs()[0].Destination != "/r/test_input" {
		t.Error("inputs were not copied")
	}
	if tk.Command() != want {
		t.Error("command changed after construction")
	}
}

func TestNew_BindingErrorAtConstruction(t *testing.T) {
	_, err := New(Spec{
		Name:     "app",
		Template: command.MustParse("echo {outputs[1]}"),
		Resource: "r",
		Outputs:  []models.FileReference{ref("/r/out")},
	})

	var tbe *command.TemplateBindingError
	if !errors.As(err, &tbe) {
		t.Fatalf("expected TemplateBindingError, got %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	tmpl := command.MustParse("echo hi")
	tests := []struct {
		name  string
		spec  Spec
		field string
	}{
		{"missing name", Spec{Template: tmpl, Resource: "r"}, "name"},
		{"bad name", Spec{Name: "has space", Template: tmpl, Resource: "r"}, "name"},
		{"missing resource", Spec{Name: "a", Template: tmpl}, "resource"},
		{"missing template", Spec{Name: "a", Resource: "r"}, "command"},
		{"bad locator", Spec{Name: "a", Template: tmpl, Resource: "r",
			Inputs: []models.FileReference{{Source: "s3://b/k", Destination: "/r/x"}}}, "inputs[0]"},
		{"relative destination", Spec{Name: "a", Template: tmpl, Resource: "r",
			Outputs: []models.FileReference{{Source: "file://h/x", Destination: "x"}}}, "outputs[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.spec)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestNew_UniqueIDs(t *testing.T) {
	spec := Spec{Name: "a", Template: command.MustParse("true"), Resource: "r"}
	a, _ := New(spec)
	b, _ := New(spec)
	if a.ID() == b.ID() {
		t.Error("expected distinct task IDs")
	}
}
