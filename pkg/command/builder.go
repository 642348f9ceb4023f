package command

// Part is one argument of a command assembled with New.
type Part struct {
	seg segment
}

// Arg is a literal argument, quoted as a single argv element.
func Arg(s string) Part { return Part{segment{kind: segLiteral, text: s, quote: true}} }

// Raw is inserted verbatim, for shell operators such as "&&" or ">".
func Raw(s string) Part { return Part{segment{kind: segLiteral, text: s}} }

// Input refers to the destination path of inputs[i].
func Input(i int) Part { return Part{segment{kind: segInput, index: i}} }

// Output refers to the destination path of outputs[i].
func Output(i int) Part { return Part{segment{kind: segOutput, index: i}} }

// Param refers to a direct parameter.
func Param(name string) Part { return Part{segment{kind: segParam, text: name}} }

// New builds a template from typed parts, joined by single spaces.
//
//	command.New(command.Arg("echo"), command.Param("runopt"), command.Raw(">"), command.Output(0))
func New(parts ...Part) *Template {
	t := &Template{}
	for i, p := range parts {
		if i > 0 {
			t.segments = append(t.segments, segment{kind: segLiteral, text: " "})
		}
		t.segments = append(t.segments, p.seg)
	}
	return t
}
