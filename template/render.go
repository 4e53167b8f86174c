// Package template implements the external templating collaborator of
// spec.md §6: render(template, bindings) -> string. It is grounded on
// the retrieved pack's smilemakc-mbflow workflow engine, which solves
// the same "small expression/templating over string bindings" problem
// with github.com/expr-lang/expr; this package reuses its
// `${{ expression }}` placeholder convention rather than Mustache-style
// `{{ }}` variable-only substitution, since spec.md §6 already reserves
// command strings for POSIX shell syntax and a `${...}` form avoids
// colliding with shell's own `$VAR`/`${VAR}` expansion only when doubled,
// hence `${{ }}`.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
)

// placeholderPattern matches ${{ expression }} spans.
var placeholderPattern = regexp.MustCompile(`\$\{\{(.*?)\}\}`)

// Renderer evaluates ${{ expression }} placeholders against a bindings
// map using expr-lang, implementing the scheduler.Templater interface.
type Renderer struct{}

// New constructs a Renderer. It holds no state: expr programs are
// compiled fresh per call since bindings (hence the expression
// environment shape) differ per node and per spawn.
func New() Renderer { return Renderer{} }

// Render implements the templating collaborator contract of spec.md §6:
// every `${{ expression }}` span in tmpl is replaced by the expression's
// evaluation against bindings, bindings values are exposed as plain
// strings. A span with no closing `}}` is left untouched; a span that
// fails to compile or evaluate is a RenderError.
func (Renderer) Render(tmpl string, bindings map[string]string) (string, error) {
	if !strings.Contains(tmpl, "${{") {
		return tmpl, nil
	}

	env := make(map[string]any, len(bindings))
	for k, v := range bindings {
		env[k] = v
	}

	var evalErr error
	out := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		if evalErr != nil {
			return match
		}
		expression := strings.TrimSpace(placeholderPattern.FindStringSubmatch(match)[1])
		program, err := expr.Compile(expression, expr.Env(env), expr.AsAny())
		if err != nil {
			evalErr = fmt.Errorf("compile %q: %w", expression, err)
			return match
		}
		result, err := expr.Run(program, env)
		if err != nil {
			evalErr = fmt.Errorf("evaluate %q: %w", expression, err)
			return match
		}
		return fmt.Sprint(result)
	})
	if evalErr != nil {
		return "", evalErr
	}
	return out, nil
}
