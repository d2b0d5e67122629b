package agentgraph

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"
)

// State is the shared data a thread carries from node to node.
// Nodes never mutate it in place; they return partial states (deltas) that
// the Schema merges.
type State map[string]any

// Clone returns a deep copy of s. Nested slices, maps, pointers and the
// exported fields of structs are copied, so a node that mutates what it
// reads cannot reach another branch's state.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	if v == nil {
		return nil
	}
	return deepCopy(reflect.ValueOf(v)).Interface()
}

// deepCopy does not follow cycles; state values must be JSON-encodable,
// which rules them out.
func deepCopy(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(deepCopy(v.Elem()))
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(deepCopy(v.Elem()))
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), deepCopy(iter.Value()))
		}
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if f := out.Field(i); f.CanSet() {
				f.Set(deepCopy(v.Field(i)))
			}
		}
		return out
	default:
		return v
	}
}

// overlay returns a clone of s with the keys of input replaced verbatim.
func (s State) overlay(input State) State {
	out := s.Clone()
	for k, v := range input {
		out[k] = v
	}
	return out
}

// Rule is a field's reduction rule.
type Rule int

// Reduction rules.
const (
	// RuleReplace overwrites the old value. Undeclared fields use it.
	RuleReplace Rule = iota
	// RuleAppend concatenates values in append order.
	RuleAppend
	// RuleAppendWithReset appends, and accepts a Reset operation that
	// empties the sequence before the same merge appends.
	RuleAppendWithReset
	// RuleReadOnly accepts one value; equal rewrites are ignored.
	RuleReadOnly
)

// String returns the rule name.
func (r Rule) String() string {
	switch r {
	case RuleReplace:
		return "replace"
	case RuleAppend:
		return "append"
	case RuleAppendWithReset:
		return "append-with-reset"
	case RuleReadOnly:
		return "read-only"
	default:
		return fmt.Sprintf("Rule(%d)", int(r))
	}
}

// Field declares one state field: its name, rule, and Go type.
// Create fields with ReplaceField, DefaultField, AppendField,
// ResettableField, or ReadOnlyField.
type Field interface {
	Name() string
	Rule() Rule

	merge(current any, present bool, delta any) (any, error)
	initial() (any, bool)
	decode(raw json.RawMessage) (any, error)
}

// ListOp is the delta for append fields. A bare T or []T is shorthand for
// Append.
type ListOp[T any] struct {
	Reset bool
	Items []T
}

// Append returns an operation appending items.
func Append[T any](items ...T) ListOp[T] {
	return ListOp[T]{Items: items}
}

// Reset returns an operation that empties the field, then appends items.
// Only fields declared with ResettableField accept it.
func Reset[T any](items ...T) ListOp[T] {
	return ListOp[T]{Reset: true, Items: items}
}

// ReplaceField declares a field whose new value overwrites the old one.
func ReplaceField[T any](name string) Field {
	return &replaceField[T]{name: name}
}

// DefaultField declares a replace field that Initial sets to def.
func DefaultField[T any](name string, def T) Field {
	return &replaceField[T]{name: name, def: &def}
}

type replaceField[T any] struct {
	name string
	def  *T
}

func (f *replaceField[T]) Name() string { return f.name }
func (f *replaceField[T]) Rule() Rule   { return RuleReplace }

func (f *replaceField[T]) merge(_ any, _ bool, delta any) (any, error) {
	return coerce[T](f.name, delta)
}

func (f *replaceField[T]) initial() (any, bool) {
	if f.def == nil {
		return nil, false
	}
	return cloneValue(*f.def), true
}

func (f *replaceField[T]) decode(raw json.RawMessage) (any, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

// ReadOnlyField declares a field that is set once, typically an identifier.
func ReadOnlyField[T any](name string) Field {
	return &readOnlyField[T]{name: name}
}

type readOnlyField[T any] struct {
	name string
}

func (f *readOnlyField[T]) Name() string { return f.name }
func (f *readOnlyField[T]) Rule() Rule   { return RuleReadOnly }

func (f *readOnlyField[T]) merge(current any, present bool, delta any) (any, error) {
	v, err := coerce[T](f.name, delta)
	if err != nil {
		return nil, err
	}
	if !present {
		return v, nil
	}
	if !reflect.DeepEqual(current, v) {
		return nil, &StateShapeError{
			Field:  f.name,
			Want:   fmt.Sprintf("%v", current),
			Got:    fmt.Sprintf("%v", v),
			Reason: "field is read-only",
		}
	}
	return current, nil
}

func (f *readOnlyField[T]) initial() (any, bool) { return nil, false }

func (f *readOnlyField[T]) decode(raw json.RawMessage) (any, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

// AppendField declares a sequence field whose deltas are appended.
func AppendField[T any](name string, opts ...AppendOption[T]) Field {
	f := &appendField[T]{name: name}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ResettableField declares an append field that also accepts Reset.
func ResettableField[T any](name string, opts ...AppendOption[T]) Field {
	f := &appendField[T]{name: name, resettable: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// AppendOption configures an append field.
type AppendOption[T any] func(*appendField[T])

// KeyedBy makes appended items whose key matches an existing item replace
// it in place. Items with an empty key always append.
func KeyedBy[T any](key func(T) string) AppendOption[T] {
	return func(f *appendField[T]) { f.key = key }
}

type appendField[T any] struct {
	name       string
	resettable bool
	key        func(T) string
}

func (f *appendField[T]) Name() string { return f.name }

func (f *appendField[T]) Rule() Rule {
	if f.resettable {
		return RuleAppendWithReset
	}
	return RuleAppend
}

func (f *appendField[T]) merge(current any, present bool, delta any) (any, error) {
	op, err := f.normalize(delta)
	if err != nil {
		return nil, err
	}
	if op.Reset && !f.resettable {
		return nil, &StateShapeError{
			Field:  f.name,
			Want:   "append",
			Got:    "reset",
			Reason: "field does not accept reset",
		}
	}

	var base []T
	if present && !op.Reset {
		cur, err := coerce[[]T](f.name, current)
		if err != nil {
			return nil, err
		}
		base = cur
	}

	out := make([]T, len(base), len(base)+len(op.Items))
	copy(out, base)

	if f.key == nil {
		return append(out, op.Items...), nil
	}

	index := make(map[string]int, len(out))
	for i, item := range out {
		if k := f.key(item); k != "" {
			index[k] = i
		}
	}
	for _, item := range op.Items {
		k := f.key(item)
		if i, ok := index[k]; ok && k != "" {
			out[i] = item
			continue
		}
		if k != "" {
			index[k] = len(out)
		}
		out = append(out, item)
	}
	return out, nil
}

// normalize accepts ListOp[T], T, []T, or a generic []any.
func (f *appendField[T]) normalize(delta any) (ListOp[T], error) {
	switch d := delta.(type) {
	case ListOp[T]:
		return d, nil
	case *ListOp[T]:
		if d == nil {
			return ListOp[T]{}, nil
		}
		return *d, nil
	case []T:
		return ListOp[T]{Items: d}, nil
	case T:
		return ListOp[T]{Items: []T{d}}, nil
	case nil:
		return ListOp[T]{}, nil
	}

	if reflect.TypeOf(delta).Kind() == reflect.Slice {
		items, err := coerce[[]T](f.name, delta)
		return ListOp[T]{Items: items}, err
	}
	item, err := coerce[T](f.name, delta)
	return ListOp[T]{Items: []T{item}}, err
}

func (f *appendField[T]) initial() (any, bool) { return []T{}, true }

func (f *appendField[T]) decode(raw json.RawMessage) (any, error) {
	var v []T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if v == nil {
		v = []T{}
	}
	return v, nil
}

// coerce converts v to T. Values already of type T pass through; generic
// JSON shapes (maps, []any, float64) are decoded with mapstructure so that
// caller input read from JSON lands in typed fields.
func coerce[T any](field string, v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	var out T
	if v == nil {
		return out, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     &out,
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339),
	})
	if err == nil {
		err = dec.Decode(v)
	}
	if err != nil {
		return out, &StateShapeError{
			Field:  field,
			Want:   reflect.TypeOf(&out).Elem().String(),
			Got:    reflect.TypeOf(v).String(),
			Reason: err.Error(),
		}
	}
	return out, nil
}

// Schema holds the field declarations of a graph's state.
// A nil *Schema treats every field as RuleReplace.
type Schema struct {
	fields map[string]Field
	order  []string
}

// NewSchema creates a schema. It panics on duplicate or empty field names.
func NewSchema(fields ...Field) *Schema {
	s := &Schema{fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		name := f.Name()
		if name == "" {
			panic("agentgraph: field name cannot be empty")
		}
		if _, dup := s.fields[name]; dup {
			panic(fmt.Sprintf("agentgraph: duplicate field: %s", name))
		}
		s.fields[name] = f
		s.order = append(s.order, name)
	}
	return s
}

// Field returns the declaration of name.
func (s *Schema) Field(name string) (Field, bool) {
	if s == nil {
		return nil, false
	}
	f, ok := s.fields[name]
	return f, ok
}

// Fields returns declared field names in declaration order.
func (s *Schema) Fields() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// Initial returns the zero state: append fields empty, defaults applied.
func (s *Schema) Initial() State {
	st := State{}
	if s == nil {
		return st
	}
	for _, name := range s.order {
		if v, ok := s.fields[name].initial(); ok {
			st[name] = v
		}
	}
	return st
}

// Merge applies delta to current field by field and returns the new state.
// Fields absent from delta are untouched and current is never modified.
// Keys are processed in sorted order so errors are deterministic.
func (s *Schema) Merge(current, delta State) (State, error) {
	out := make(State, len(current)+len(delta))
	for k, v := range current {
		out[k] = v
	}

	keys := make([]string, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		f, ok := s.Field(k)
		if !ok {
			v, err := generic(k, delta[k])
			if err != nil {
				return nil, err
			}
			out[k] = v
			continue
		}
		cur, present := current[k]
		v, err := f.merge(cur, present, delta[k])
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// generic reduces an undeclared field to the shape it has after a checkpoint
// round trip: numbers become float64, slices []any, objects map[string]any.
// A thread then reads the same values whether or not it was resumed.
func generic(field string, v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &StateShapeError{
			Field:  field,
			Want:   "JSON value",
			Got:    reflect.TypeOf(v).String(),
			Reason: err.Error(),
		}
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: field %s: %v", ErrDeserializeState, field, err)
	}
	return out, nil
}

// Normalize passes st through Encode and Decode, giving every field the Go
// type it would have after a checkpoint reload.
func (s *Schema) Normalize(st State) (State, error) {
	raw, err := s.Encode(st)
	if err != nil {
		return nil, err
	}
	return s.Decode(raw)
}

// Encode serializes a state to a JSON object.
func (s *Schema) Encode(st State) (json.RawMessage, error) {
	if st == nil {
		st = State{}
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializeState, err)
	}
	return data, nil
}

// Decode restores a state produced by Encode. Declared fields decode into
// their Go types; undeclared fields decode as generic JSON values.
func (s *Schema) Decode(raw json.RawMessage) (State, error) {
	st := State{}
	if len(raw) == 0 {
		return st, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}
	for k, v := range fields {
		f, ok := s.Field(k)
		if !ok {
			var generic any
			if err := json.Unmarshal(v, &generic); err != nil {
				return nil, fmt.Errorf("%w: field %s: %v", ErrDeserializeState, k, err)
			}
			st[k] = generic
			continue
		}
		val, err := f.decode(v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrDeserializeState, k, err)
		}
		st[k] = val
	}
	return st, nil
}

// Get returns the value of key as T, or the zero value when it is missing
// or of another type.
func Get[T any](s State, key string) T {
	v, _ := Lookup[T](s, key)
	return v
}

// Lookup returns the value of key as T and whether it was present and
// convertible.
func Lookup[T any](s State, key string) (T, bool) {
	raw, ok := s[key]
	if !ok {
		var zero T
		return zero, false
	}
	v, err := coerce[T](key, raw)
	if err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// Items returns the sequence stored under key. Missing keys yield nil.
func Items[T any](s State, key string) []T {
	return Get[[]T](s, key)
}

// Decode copies a generic value (a resume value, a decoded interrupt payload)
// into out using `json` field tags.
func Decode(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}
