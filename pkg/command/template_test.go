package command_test

import (
	"errors"
	"reflect"
	"testing"

	. "stagerun/pkg/command"
)

func TestRender_SubstitutesParamsAndPaths(t *testing.T) {
	got, err := Render(
		"echo {outdir} && echo {srcdir} && echo {runopt}",
		map[string]string{"runopt": "hello workflow", "srcdir": "/r/test_input", "outdir": "/r/test_output"},
		nil, nil,
	)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	want := "echo /r/test_output && echo /r/test_input && echo 'hello workflow'"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestRender_PositionalReferences(t *testing.T) {
	got, err := Render("cp -r {inputs[0]} {outputs[0]}/copy; ls {inputs[1]}", nil,
		[]string{"/r/a", "/r/b"}, []string{"/r/out"})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if got != "cp -r /r/a /r/out/copy; ls /r/b" {
		t.Errorf("Render() = %q", got)
	}
}

func TestRender_OutOfRangeOutputIsBindingError(t *testing.T) {
	_, err := Render("echo {outputs[1]}", nil, nil, []string{"/r/out"})

	var tbe *TemplateBindingError
	if !errors.As(err, &tbe) {
		t.Fatalf("expected TemplateBindingError, got %v", err)
	}
	if tbe.Ref != "outputs[1]" {
		t.Errorf("Ref = %q, want outputs[1]", tbe.Ref)
	}
}

func TestRender_UnknownParamIsBindingError(t *testing.T) {
	_, err := Render("echo {missing}", map[string]string{"other": "x"}, nil, nil)
	var tbe *TemplateBindingError
	if !errors.As(err, &tbe) {
		t.Fatalf("expected TemplateBindingError, got %v", err)
	}
}

func TestParse_Escapes(t *testing.T) {
	got, err := Render("awk '{{print $1}}' ${HOME}/x", nil, nil, nil)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if got != "awk '{print $1}' ${HOME}/x" {
		t.Errorf("Render() = %q", got)
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, tpl := range []string{
		"echo {",
		"echo }",
		"echo {}",
		"echo {inputs[x]}",
		"echo {inputs[-1]}",
		"echo {outputs[0}",
		"echo {9lives}",
		"echo ${HOME",
		"ls ${inputs[0]}",
		"cp x ${ outputs[1] }",
	} {
		_, err := Parse(tpl)
		var tbe *TemplateBindingError
		if !errors.As(err, &tbe) {
			t.Errorf("Parse(%q) = %v, want TemplateBindingError", tpl, err)
		}
	}
}

func TestTemplate_ArityAndParams(t *testing.T) {
	tpl := MustParse("x {inputs[2]} {outputs[0]} {b} {a} {b}")
	in, out := tpl.Arity()
	if in != 3 || out != 1 {
		t.Errorf("Arity() = %d, %d; want 3, 1", in, out)
	}
	if got := tpl.Params(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Params() = %v", got)
	}
}

func TestTemplate_ZeroReferences(t *testing.T) {
	got, err := Render("echo hi", nil, nil, nil)
	if err != nil || got != "echo hi" {
		t.Errorf("Render() = %q, %v", got, err)
	}
}

func TestNew_BuildsQuotedArgv(t *testing.T) {
	tpl := New(Arg("echo"), Arg("two words"), Param("opt"), Raw(">"), Output(0))

	got, err := tpl.Bind(map[string]string{"opt": "a;b"}, nil, []string{"/r/out file"})
	if err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	want := "echo 'two words' 'a;b' > '/r/out file'"
	if got != want {
		t.Errorf("Bind() = %q, want %q", got, want)
	}

	if _, err := tpl.Bind(map[string]string{"opt": "x"}, nil, nil); err == nil {
		t.Error("expected binding error for missing output")
	}
}

func TestNew_StringMatchesBoundQuoting(t *testing.T) {
	tpl := New(Arg("echo"), Arg("two words"), Raw(">"), Output(0))

	want := "echo 'two words' > {outputs[0]}"
	if got := tpl.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
