// Package command binds task parameters and staged file paths into the shell
// command a resource executes.
//
// Templates address staged files positionally by their destination path:
//
//	echo {runopt} > {outputs[0]}/log && ls {inputs[0]}
//
// "{{" and "}}" produce literal braces and "${...}" is left for the shell.
// Every substituted value is shell-quoted.
package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"
)

// TemplateBindingError reports a template reference that cannot be bound.
type TemplateBindingError struct {
	Ref    string
	Reason string
}

func (e *TemplateBindingError) Error() string {
	return fmt.Sprintf("template binding %q: %s", e.Ref, e.Reason)
}

type segmentKind int

const (
	segLiteral segmentKind = iota
	segInput
	segOutput
	segParam
)

type segment struct {
	kind  segmentKind
	text  string // literal text or parameter name
	index int
	quote bool // literal args from the builder are quoted too
}

// Template is a parsed command. It is immutable and safe to share.
type Template struct {
	source   string
	segments []segment
}

// Parse compiles a string template.
func Parse(s string) (*Template, error) {
	t := &Template{source: s}
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{kind: segLiteral, text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '{' && i+1 < len(s) && s[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '$' && i+1 < len(s) && s[i+1] == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return nil, &TemplateBindingError{Ref: s[i:], Reason: "unterminated shell expansion"}
			}
			if name := strings.TrimSpace(s[i+2 : i+end]); strings.HasPrefix(name, "inputs[") || strings.HasPrefix(name, "outputs[") {
				return nil, &TemplateBindingError{Ref: s[i : i+end+1], Reason: "file reference inside a shell expansion; drop the $"}
			}
			lit.WriteString(s[i : i+end+1])
			i += end
		case c == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return nil, &TemplateBindingError{Ref: s[i:], Reason: "unterminated placeholder"}
			}
			seg, err := parsePlaceholder(s[i+1 : i+end])
			if err != nil {
				return nil, err
			}
			flush()
			t.segments = append(t.segments, seg)
			i += end
		case c == '}':
			return nil, &TemplateBindingError{Ref: "}", Reason: fmt.Sprintf("unmatched brace at offset %d", i)}
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) *Template {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

func parsePlaceholder(ref string) (segment, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return segment{}, &TemplateBindingError{Ref: "{}", Reason: "empty placeholder"}
	}

	for _, p := range []struct {
		prefix string
		kind   segmentKind
	}{{"inputs[", segInput}, {"outputs[", segOutput}} {
		if !strings.HasPrefix(ref, p.prefix) {
			continue
		}
		if !strings.HasSuffix(ref, "]") {
			return segment{}, &TemplateBindingError{Ref: ref, Reason: "missing closing bracket"}
		}
		idx, err := strconv.Atoi(ref[len(p.prefix) : len(ref)-1])
		if err != nil || idx < 0 {
			return segment{}, &TemplateBindingError{Ref: ref, Reason: "index must be a non-negative integer"}
		}
		return segment{kind: p.kind, index: idx}, nil
	}

	if !validParamName(ref) {
		return segment{}, &TemplateBindingError{Ref: ref, Reason: "invalid parameter name"}
	}
	return segment{kind: segParam, text: ref}, nil
}

func validParamName(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// String returns the template source.
func (t *Template) String() string {
	if t.source != "" {
		return t.source
	}
	var parts []string
	for _, s := range t.segments {
		switch s.kind {
		case segInput:
			parts = append(parts, fmt.Sprintf("{inputs[%d]}", s.index))
		case segOutput:
			parts = append(parts, fmt.Sprintf("{outputs[%d]}", s.index))
		case segParam:
			parts = append(parts, "{"+s.text+"}")
		default:
			if s.quote {
				parts = append(parts, shellescape.Quote(s.text))
			} else {
				parts = append(parts, s.text)
			}
		}
	}
	return strings.Join(parts, "")
}

// Params lists the direct parameter names the template references, sorted.
func (t *Template) Params() []string {
	seen := map[string]bool{}
	var names []string
	for _, s := range t.segments {
		if s.kind == segParam && !seen[s.text] {
			seen[s.text] = true
			names = append(names, s.text)
		}
	}
	sort.Strings(names)
	return names
}

// Arity returns how many inputs and outputs the template needs at minimum.
func (t *Template) Arity() (inputs, outputs int) {
	for _, s := range t.segments {
		switch s.kind {
		case segInput:
			inputs = max(inputs, s.index+1)
		case segOutput:
			outputs = max(outputs, s.index+1)
		}
	}
	return inputs, outputs
}

// Bind renders the command. inputs and outputs are the destination paths of the
// task's file references, in order.
func (t *Template) Bind(params map[string]string, inputs, outputs []string) (string, error) {
	var b strings.Builder
	for _, s := range t.segments {
		switch s.kind {
		case segLiteral:
			if s.quote {
				b.WriteString(shellescape.Quote(s.text))
			} else {
				b.WriteString(s.text)
			}
		case segInput:
			if s.index >= len(inputs) {
				return "", &TemplateBindingError{
					Ref:    fmt.Sprintf("inputs[%d]", s.index),
					Reason: fmt.Sprintf("only %d input(s) supplied", len(inputs)),
				}
			}
			b.WriteString(shellescape.Quote(inputs[s.index]))
		case segOutput:
			if s.index >= len(outputs) {
				return "", &TemplateBindingError{
					Ref:    fmt.Sprintf("outputs[%d]", s.index),
					Reason: fmt.Sprintf("only %d output(s) supplied", len(outputs)),
				}
			}
			b.WriteString(shellescape.Quote(outputs[s.index]))
		case segParam:
			v, ok := params[s.text]
			if !ok {
				return "", &TemplateBindingError{Ref: s.text, Reason: "no such direct parameter"}
			}
			b.WriteString(shellescape.Quote(v))
		}
	}
	return b.String(), nil
}

// Render parses and binds in one step.
func Render(template string, params map[string]string, inputs, outputs []string) (string, error) {
	t, err := Parse(template)
	if err != nil {
		return "", err
	}
	return t.Bind(params, inputs, outputs)
}
