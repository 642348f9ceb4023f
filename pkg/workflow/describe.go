package workflow

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Describe prints the workflow as the driver will run it.
func (d *Driver) Describe(w io.Writer) error {
	return d.def.Describe(w, d.workDir)
}

// Describe prints the resource labels, form inputs, resource configuration
// and app plan. workDir locates the parameter file.
func (def *Definition) Describe(w io.Writer, workDir string) error {
	bw := &errWriter{w: w}

	bw.printf("Workflow: %s\n", nonEmpty(def.Name, "(unnamed)"))
	bw.printf("\nResource labels: %s\n", strings.Join(def.ResourceLabels, ", "))

	bw.printf("\nForm inputs:\n")
	if def.Form.Len() == 0 {
		bw.printf("  (none)\n")
	}
	for _, g := range def.Form.Groups {
		bw.printf("  [%s]\n", g.Name)
		for _, p := range g.Params {
			bw.printf("    %s = %s\n", p.Name, p.Value)
		}
	}
	bw.printf("\nParams file: %s (group %s)\n  %s", def.ParamsPath(workDir), def.Params.Group, def.ParamsLine())

	bw.printf("\nResources:\n")
	tw := tabwriter.NewWriter(bw, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  LABEL\tKIND\tWORKING DIR\tHOST\tSLOTS")
	cfgs, err := def.ResourceConfigs()
	if err != nil {
		return err
	}
	for _, c := range cfgs {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%d\n", c.Label, c.Kind, c.WorkingDir, nonEmpty(c.Host, "-"), c.Slots)
	}
	_ = tw.Flush()

	bw.printf("\nApps:\n")
	tw = tabwriter.NewWriter(bw, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tRESOURCE\tWAIT\tINPUTS\tOUTPUTS")
	for _, app := range def.Apps {
		label, _ := def.ResourceFor(app)
		fmt.Fprintf(tw, "  %s\t%s\t%t\t%d\t%d\n", app.Name, nonEmpty(label, "-"), app.Wait, len(app.Inputs), len(app.Outputs))
	}
	_ = tw.Flush()

	return bw.err
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// errWriter keeps the first write error so callers can print freely.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) printf(format string, args ...any) {
	fmt.Fprintf(e, format, args...)
}
