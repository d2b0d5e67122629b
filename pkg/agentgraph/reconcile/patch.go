package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/go-openapi/jsonpointer"
)

// ErrInvalidPatch indicates a patch operation that cannot be applied.
var ErrInvalidPatch = errors.New("invalid patch")

// Patch is one JSON Patch (RFC 6902) operation.
type Patch struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value,omitempty"`
}

// PatchError reports the operation that failed.
type PatchError struct {
	Index int
	Op    string
	Path  string
	Err   error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("patch %d (%s %s): %v", e.Index, e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PatchError) Unwrap() error { return e.Err }

// Apply runs patches against a copy of doc and returns the result.
// Supported operations are add, remove, replace, move, copy, and test.
// doc is never modified.
func Apply(doc map[string]any, patches []Patch) (map[string]any, error) {
	root, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	if root == nil {
		root = map[string]any{}
	}

	for i, p := range patches {
		root, err = applyOne(root, p)
		if err != nil {
			return nil, &PatchError{Index: i, Op: p.Op, Path: p.Path, Err: err}
		}
	}

	out, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: document is no longer an object", ErrInvalidPatch)
	}
	return out, nil
}

func applyOne(root any, p Patch) (any, error) {
	path, err := tokens(p.Path)
	if err != nil {
		return nil, err
	}

	switch p.Op {
	case "add":
		value, err := normalize(p.Value)
		if err != nil {
			return nil, err
		}
		return add(root, path, value)
	case "remove":
		root, _, err = remove(root, path)
		return root, err
	case "replace":
		value, err := normalize(p.Value)
		if err != nil {
			return nil, err
		}
		if len(path) == 0 {
			return value, nil
		}
		if root, _, err = remove(root, path); err != nil {
			return nil, err
		}
		return add(root, path, value)
	case "move":
		from, err := tokens(p.From)
		if err != nil {
			return nil, err
		}
		var value any
		if root, value, err = remove(root, from); err != nil {
			return nil, err
		}
		return add(root, path, value)
	case "copy":
		from, err := tokens(p.From)
		if err != nil {
			return nil, err
		}
		value, err := get(root, from)
		if err != nil {
			return nil, err
		}
		value, err = normalize(value)
		if err != nil {
			return nil, err
		}
		return add(root, path, value)
	case "test":
		got, err := get(root, path)
		if err != nil {
			return nil, err
		}
		want, err := normalize(p.Value)
		if err != nil {
			return nil, err
		}
		if !reflect.DeepEqual(got, want) {
			return nil, fmt.Errorf("%w: test failed: have %s", ErrInvalidPatch, render(got))
		}
		return root, nil
	default:
		return nil, fmt.Errorf("%w: unsupported op %q", ErrInvalidPatch, p.Op)
	}
}

func tokens(path string) ([]string, error) {
	ptr, err := jsonpointer.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return ptr.DecodedTokens(), nil
}

func get(node any, path []string) (any, error) {
	for _, tok := range path {
		switch c := node.(type) {
		case map[string]any:
			v, ok := c[tok]
			if !ok {
				return nil, fmt.Errorf("%w: member %q not found", ErrInvalidPatch, tok)
			}
			node = v
		case []any:
			i, err := index(tok, len(c)-1)
			if err != nil {
				return nil, err
			}
			node = c[i]
		default:
			return nil, fmt.Errorf("%w: cannot descend into %T at %q", ErrInvalidPatch, node, tok)
		}
	}
	return node, nil
}

// update replaces the container at the end of path with fn's result and
// rebuilds the parents, since appending to a slice may reallocate it.
func update(node any, path []string, fn func(container any) (any, error)) (any, error) {
	if len(path) == 0 {
		return fn(node)
	}
	child, err := get(node, path[:1])
	if err != nil {
		return nil, err
	}
	child, err = update(child, path[1:], fn)
	if err != nil {
		return nil, err
	}
	switch c := node.(type) {
	case map[string]any:
		c[path[0]] = child
	case []any:
		i, _ := index(path[0], len(c)-1)
		c[i] = child
	}
	return node, nil
}

func add(root any, path []string, value any) (any, error) {
	if len(path) == 0 {
		return value, nil
	}
	parent, last := path[:len(path)-1], path[len(path)-1]
	return update(root, parent, func(container any) (any, error) {
		switch c := container.(type) {
		case map[string]any:
			c[last] = value
			return c, nil
		case []any:
			if last == "-" {
				return append(c, value), nil
			}
			i, err := index(last, len(c))
			if err != nil {
				return nil, err
			}
			c = append(c, nil)
			copy(c[i+1:], c[i:])
			c[i] = value
			return c, nil
		default:
			return nil, fmt.Errorf("%w: cannot add to %T", ErrInvalidPatch, container)
		}
	})
}

func remove(root any, path []string) (any, any, error) {
	if len(path) == 0 {
		return nil, nil, fmt.Errorf("%w: cannot remove the document root", ErrInvalidPatch)
	}
	var removed any
	parent, last := path[:len(path)-1], path[len(path)-1]
	root, err := update(root, parent, func(container any) (any, error) {
		switch c := container.(type) {
		case map[string]any:
			v, ok := c[last]
			if !ok {
				return nil, fmt.Errorf("%w: member %q not found", ErrInvalidPatch, last)
			}
			removed = v
			delete(c, last)
			return c, nil
		case []any:
			i, err := index(last, len(c)-1)
			if err != nil {
				return nil, err
			}
			removed = c[i]
			return append(c[:i], c[i+1:]...), nil
		default:
			return nil, fmt.Errorf("%w: cannot remove from %T", ErrInvalidPatch, container)
		}
	})
	return root, removed, err
}

// index parses an array index in [0, maxIndex].
func index(tok string, maxIndex int) (int, error) {
	i, err := strconv.Atoi(tok)
	if err != nil || i < 0 || (len(tok) > 1 && tok[0] == '0') {
		return 0, fmt.Errorf("%w: bad array index %q", ErrInvalidPatch, tok)
	}
	if i > maxIndex {
		return 0, fmt.Errorf("%w: array index %d out of range", ErrInvalidPatch, i)
	}
	return i, nil
}

// normalize deep-copies v into plain JSON values (maps, []any, float64).
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return out, nil
}
