package reconcile_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/reconcile"
)

func sampleDoc() map[string]any {
	return map[string]any{
		"task":      "plan trip",
		"solutions": []any{"train", "car"},
		"meta":      map[string]any{"a/b": 1.0, "m~n": 2.0},
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		patches []reconcile.Patch
		check   func(t *testing.T, doc map[string]any)
	}{
		{
			name:    "add member",
			patches: []reconcile.Patch{{Op: "add", Path: "/status", Value: "done"}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, "done", doc["status"])
			},
		},
		{
			name:    "add inserts into array",
			patches: []reconcile.Patch{{Op: "add", Path: "/solutions/1", Value: "plane"}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, []any{"train", "plane", "car"}, doc["solutions"])
			},
		},
		{
			name:    "add at array end index",
			patches: []reconcile.Patch{{Op: "add", Path: "/solutions/2", Value: "bike"}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, []any{"train", "car", "bike"}, doc["solutions"])
			},
		},
		{
			name:    "append with dash",
			patches: []reconcile.Patch{{Op: "add", Path: "/solutions/-", Value: "bike"}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, []any{"train", "car", "bike"}, doc["solutions"])
			},
		},
		{
			name:    "remove array element",
			patches: []reconcile.Patch{{Op: "remove", Path: "/solutions/0"}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, []any{"car"}, doc["solutions"])
			},
		},
		{
			name:    "replace member",
			patches: []reconcile.Patch{{Op: "replace", Path: "/task", Value: "book trip"}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, "book trip", doc["task"])
			},
		},
		{
			name:    "replace array element keeps position",
			patches: []reconcile.Patch{{Op: "replace", Path: "/solutions/0", Value: "bus"}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, []any{"bus", "car"}, doc["solutions"])
			},
		},
		{
			name:    "escaped pointer tokens",
			patches: []reconcile.Patch{{Op: "replace", Path: "/meta/a~1b", Value: 3}, {Op: "remove", Path: "/meta/m~0n"}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, map[string]any{"a/b": 3.0}, doc["meta"])
			},
		},
		{
			name:    "move",
			patches: []reconcile.Patch{{Op: "move", From: "/task", Path: "/title"}},
			check: func(t *testing.T, doc map[string]any) {
				assert.NotContains(t, doc, "task")
				assert.Equal(t, "plan trip", doc["title"])
			},
		},
		{
			name:    "copy",
			patches: []reconcile.Patch{{Op: "copy", From: "/solutions/1", Path: "/best"}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, "car", doc["best"])
				assert.Len(t, doc["solutions"], 2)
			},
		},
		{
			name:    "test then replace",
			patches: []reconcile.Patch{{Op: "test", Path: "/task", Value: "plan trip"}, {Op: "replace", Path: "/task", Value: "x"}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, "x", doc["task"])
			},
		},
		{
			name:    "replace root",
			patches: []reconcile.Patch{{Op: "replace", Path: "", Value: map[string]any{"task": "new"}}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, map[string]any{"task": "new"}, doc)
			},
		},
		{
			name:    "typed values are normalized",
			patches: []reconcile.Patch{{Op: "add", Path: "/tags", Value: []string{"x", "y"}}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, []any{"x", "y"}, doc["tags"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := sampleDoc()
			out, err := reconcile.Apply(doc, tt.patches)
			require.NoError(t, err)
			tt.check(t, out)
			assert.Equal(t, sampleDoc(), doc, "input must not change")
		})
	}
}

func TestApply_Errors(t *testing.T) {
	tests := []struct {
		name  string
		patch reconcile.Patch
	}{
		{"unsupported op", reconcile.Patch{Op: "merge", Path: "/task"}},
		{"pointer without slash", reconcile.Patch{Op: "add", Path: "task", Value: 1}},
		{"remove missing member", reconcile.Patch{Op: "remove", Path: "/nope"}},
		{"replace missing member", reconcile.Patch{Op: "replace", Path: "/nope", Value: 1}},
		{"index out of range", reconcile.Patch{Op: "add", Path: "/solutions/5", Value: 1}},
		{"leading zero index", reconcile.Patch{Op: "remove", Path: "/solutions/01"}},
		{"descend into scalar", reconcile.Patch{Op: "add", Path: "/task/x", Value: 1}},
		{"missing parent", reconcile.Patch{Op: "add", Path: "/a/b", Value: 1}},
		{"remove root", reconcile.Patch{Op: "remove", Path: ""}},
		{"failed test", reconcile.Patch{Op: "test", Path: "/task", Value: "other"}},
		{"root becomes scalar", reconcile.Patch{Op: "add", Path: "", Value: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reconcile.Apply(sampleDoc(), []reconcile.Patch{tt.patch})
			require.Error(t, err)
			assert.ErrorIs(t, err, reconcile.ErrInvalidPatch)
		})
	}
}

func TestApply_ReportsFailingIndex(t *testing.T) {
	_, err := reconcile.Apply(sampleDoc(), []reconcile.Patch{
		{Op: "add", Path: "/x", Value: 1},
		{Op: "remove", Path: "/nope"},
	})

	var pe *reconcile.PatchError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, pe.Index)
	assert.Equal(t, "remove", pe.Op)
	assert.Equal(t, "/nope", pe.Path)
}

func TestApply_NilDocument(t *testing.T) {
	out, err := reconcile.Apply(nil, []reconcile.Patch{{Op: "add", Path: "/task", Value: "a"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"task": "a"}, out)
}
