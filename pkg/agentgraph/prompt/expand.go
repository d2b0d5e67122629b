// Package prompt renders the text templates agent nodes send to the model.
//
// Placeholders use the ${name} form. Values are written verbatim when they
// are strings or fmt.Stringers and as compact JSON otherwise, so stored
// memory documents can be dropped into a system prompt directly.
package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// MissingAction specifies how to handle missing variables.
type MissingAction int

const (
	// MissingError fails rendering. This is the default.
	MissingError MissingAction = iota

	// MissingKeep leaves the placeholder in place.
	MissingKeep

	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty
)

// Option configures an Expander.
type Option func(*Expander)

// WithMissingAction sets how missing variables are handled.
func WithMissingAction(action MissingAction) Option {
	return func(e *Expander) {
		e.missingAction = action
	}
}

// Expander substitutes ${name} placeholders.
// It is safe for concurrent use after construction.
type Expander struct {
	missingAction MissingAction
}

// NewExpander creates an Expander with the given options.
func NewExpander(opts ...Option) *Expander {
	e := &Expander{missingAction: MissingError}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand substitutes placeholders in s. An error is returned only under
// MissingError, and it lists every missing name once.
func (e *Expander) Expand(s string, vars map[string]any) (string, error) {
	var missing []string
	seen := map[string]bool{}

	out := placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if val, ok := vars[name]; ok {
			return format(val)
		}
		switch e.missingAction {
		case MissingEmpty:
			return ""
		case MissingKeep:
			return match
		default:
			if !seen[name] {
				seen[name] = true
				missing = append(missing, name)
			}
			return match
		}
	})

	if len(missing) > 0 {
		return out, &UndefinedVariableError{Names: missing}
	}
	return out, nil
}

// format renders a value for inclusion in a prompt.
func format(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case int, int64, float64, bool:
		return fmt.Sprint(val)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// Variables returns the distinct placeholder names in s, sorted.
func Variables(s string) []string {
	set := map[string]bool{}
	for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
		set[m[1]] = true
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UndefinedVariableError is returned when variables are missing under MissingError.
type UndefinedVariableError struct {
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}
