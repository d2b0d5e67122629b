package prompt

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	exp := NewExpander()

	tests := []struct {
		name string
		in   string
		vars map[string]any
		want string
	}{
		{"simple", "Hello ${name}", map[string]any{"name": "Lance"}, "Hello Lance"},
		{"repeated", "${a}${a}", map[string]any{"a": "x"}, "xx"},
		{"number", "count ${n}", map[string]any{"n": 3}, "count 3"},
		{"nil", "[${v}]", map[string]any{"v": nil}, "[]"},
		{"stringer", "${d}", map[string]any{"d": 90 * time.Second}, "1m30s"},
		{"map as json", "${doc}", map[string]any{"doc": map[string]any{"name": "Lance"}}, `{"name":"Lance"}`},
		{"slice as json", "${xs}", map[string]any{"xs": []string{"a", "b"}}, `["a","b"]`},
		{"dollar without braces untouched", "costs $5 or $name", nil, "costs $5 or $name"},
		{"empty", "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := exp.Expand(tt.in, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpand_Missing(t *testing.T) {
	t.Run("error lists names once", func(t *testing.T) {
		_, err := NewExpander().Expand("${a} ${b} ${a}", nil)
		var undef *UndefinedVariableError
		require.True(t, errors.As(err, &undef))
		assert.Equal(t, []string{"a", "b"}, undef.Names)
		assert.Equal(t, "undefined variables: a, b", err.Error())
	})

	t.Run("keep", func(t *testing.T) {
		got, err := NewExpander(WithMissingAction(MissingKeep)).Expand("${a}!", nil)
		require.NoError(t, err)
		assert.Equal(t, "${a}!", got)
	})

	t.Run("empty", func(t *testing.T) {
		got, err := NewExpander(WithMissingAction(MissingEmpty)).Expand("${a}!", nil)
		require.NoError(t, err)
		assert.Equal(t, "!", got)
	})
}

func TestVariables(t *testing.T) {
	assert.Equal(t, []string{"todos", "user_profile"}, Variables("${user_profile} ${todos} ${user_profile}"))
	assert.Empty(t, Variables("no placeholders"))
}

func TestTemplate(t *testing.T) {
	tpl := New("greeting", "Hi ${name}, today is ${day}.")
	assert.Equal(t, "greeting", tpl.Name())
	assert.Equal(t, []string{"day", "name"}, tpl.Vars())

	out, err := tpl.Render(map[string]any{"name": "Ana", "day": "Monday"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana, today is Monday.", out)

	_, err = tpl.Render(map[string]any{"name": "Ana"})
	assert.ErrorContains(t, err, "render prompt greeting")
	assert.ErrorContains(t, err, "undefined variable: day")

	assert.Panics(t, func() { tpl.MustRender(nil) })
}
