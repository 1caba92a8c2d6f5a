package generation

import (
	"text/template"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/domain/validation"
)

// maxOutputBytes bounds a single render, keeping generation strictly
// CPU-only and preventing a template with runaway {{range}} repetition
// over a large context from producing unbounded output.
const maxOutputBytes = 100 * 1024

// validateContext enforces spec §4.10's "context values must be
// scalars or flat sequences" rule — the same shape invariant C14
// applies to graph properties — via the shared
// validation.ValidatePropertyValue, so a context value carrying a
// function (which text/template's `call` pipeline could otherwise
// invoke) or a nested map/sequence is rejected before the template
// ever executes.
func validateContext(ctx map[string]any) error {
	for key, v := range ctx {
		if err := validation.ValidatePropertyValue(v); err != nil {
			return apperr.New(apperr.InvalidInput, "context key "+key+": "+err.Error())
		}
	}
	return nil
}

// renderTemplate parses and executes tmpl against ctx with no
// registered functions beyond text/template's side-effect-free
// builtins (and/or/len/index/printf and friends): there is nothing in
// the FuncMap that touches the filesystem or network, so a template
// cannot escape pure computation over its own context.
func renderTemplate(tmplSource string, ctx map[string]any) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}

	tmpl, err := template.New("generation").Option("missingkey=error").Parse(tmplSource)
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, "parsing template", err)
	}

	lw := &limitedWriter{limit: maxOutputBytes}
	if err := tmpl.Execute(lw, ctx); err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, "executing template", err)
	}
	if lw.overflow {
		return "", apperr.New(apperr.TooLarge, "rendered output exceeds the maximum size")
	}
	return string(lw.buf), nil
}

type limitedWriter struct {
	buf      []byte
	limit    int
	overflow bool
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.overflow {
		return len(p), nil
	}
	if len(w.buf)+len(p) > w.limit {
		w.overflow = true
		return len(p), nil
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}
