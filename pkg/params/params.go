// Package params holds the ordered form-parameter mapping and renders the
// flat parameter file handed to workflow apps.
//
// The file is a single line of name;input;value triples, each followed by a
// pipe, ending in a newline:
//
//	radius;input;5|height;input;10|
package params

import (
	"fmt"
	"os"
	"strings"
)

// Role marks every triple in the parameter file.
const Role = "input"

type Param struct {
	Name  string
	Value string
}

// Group is one named section of the form, in declaration order.
type Group struct {
	Name   string
	Params []Param
}

// Get returns the value of the named parameter.
func (g Group) Get(name string) (string, bool) {
	for _, p := range g.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Map flattens the group. Order is lost.
func (g Group) Map() map[string]string {
	m := make(map[string]string, len(g.Params))
	for _, p := range g.Params {
		m[p.Name] = p.Value
	}
	return m
}

// Mapping is the full form: group name to ordered parameters.
type Mapping struct {
	Groups []Group
}

// Set adds or replaces name in group, appending the group or parameter if
// it is new.
func (m *Mapping) Set(group, name, value string) {
	for gi := range m.Groups {
		if m.Groups[gi].Name != group {
			continue
		}
		g := &m.Groups[gi]
		for pi := range g.Params {
			if g.Params[pi].Name == name {
				g.Params[pi].Value = value
				return
			}
		}
		g.Params = append(g.Params, Param{Name: name, Value: value})
		return
	}
	m.Groups = append(m.Groups, Group{Name: group, Params: []Param{{Name: name, Value: value}}})
}

func (m *Mapping) Group(name string) (Group, bool) {
	for _, g := range m.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

func (m *Mapping) Len() int { return len(m.Groups) }

// String renders the mapping one group per line, for display.
func (m *Mapping) String() string {
	var b strings.Builder
	for _, g := range m.Groups {
		b.WriteString(g.Name)
		b.WriteString(":")
		for _, p := range g.Params {
			fmt.Fprintf(&b, " %s=%s", p.Name, p.Value)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Line renders g in parameter-file format, including the trailing newline.
func Line(g Group) string {
	var b strings.Builder
	for _, p := range g.Params {
		b.WriteString(p.Name)
		b.WriteString(";")
		b.WriteString(Role)
		b.WriteString(";")
		b.WriteString(p.Value)
		b.WriteString("|")
	}
	b.WriteString("\n")
	return b.String()
}

// WriteFile writes Line(g) to path, replacing any existing file.
func WriteFile(path string, g Group) error {
	for _, p := range g.Params {
		if strings.ContainsAny(p.Name, ";|\n") || strings.ContainsAny(p.Value, "|\n") {
			return fmt.Errorf("params: %s.%s contains a reserved separator", g.Name, p.Name)
		}
	}
	if err := os.WriteFile(path, []byte(Line(g)), 0644); err != nil {
		return fmt.Errorf("params: write %s: %w", path, err)
	}
	return nil
}
