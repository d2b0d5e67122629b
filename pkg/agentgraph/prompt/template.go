package prompt

import "fmt"

// Template is a named prompt with its placeholder names resolved up front.
type Template struct {
	name string
	text string
	vars []string
	exp  *Expander
}

// New creates a strict template: every placeholder must be supplied.
func New(name, text string, opts ...Option) *Template {
	return &Template{
		name: name,
		text: text,
		vars: Variables(text),
		exp:  NewExpander(opts...),
	}
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Vars returns the placeholder names the template expects.
func (t *Template) Vars() []string { return t.vars }

// Render fills the template.
func (t *Template) Render(vars map[string]any) (string, error) {
	out, err := t.exp.Expand(t.text, vars)
	if err != nil {
		return "", fmt.Errorf("render prompt %s: %w", t.name, err)
	}
	return out, nil
}

// MustRender fills the template and panics on error. Use only with
// templates whose variables are always supplied by the caller.
func (t *Template) MustRender(vars map[string]any) string {
	out, err := t.Render(vars)
	if err != nil {
		panic(err)
	}
	return out
}
