// Package memory is the long-term store agents use across threads.
//
// Records are JSON-like documents addressed by (namespace, key). A namespace
// is an ordered tuple of segments such as ("todo", "<user id>"); records
// never leak across namespaces, and Search matches whole leading segments.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Document kinds used as the first namespace segment.
const (
	KindProfile      = "profile"
	KindTodo         = "todo"
	KindInstructions = "instructions"
)

// Store persists memory records.
// Implementations must be safe for concurrent use; each call is atomic and
// concurrent writes to the same (namespace, key) resolve last-write-wins.
type Store interface {
	// Put creates or replaces the record. CreatedAt survives replacement.
	Put(ctx context.Context, ns Namespace, key string, value map[string]any) error

	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, ns Namespace, key string) (*Item, error)

	// Search returns records whose namespace starts with prefix, segment-wise.
	// Results are sorted by namespace then key; callers must not rely on it.
	Search(ctx context.Context, prefix Namespace, opts ...SearchOption) ([]Item, error)

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, ns Namespace, key string) error

	// Close releases any resources.
	Close() error
}

// Sentinel errors.
var (
	// ErrNotFound indicates the record does not exist.
	ErrNotFound = errors.New("memory record not found")

	// ErrInvalidNamespace indicates an empty namespace or a bad segment.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrInvalidKey indicates an empty key.
	ErrInvalidKey = errors.New("invalid key")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("memory store closed")
)

// separator joins encoded namespace segments. Segments may not contain it.
const separator = "\x1f"

// Namespace is an ordered tuple of opaque segments.
type Namespace []string

// NewNamespace builds a namespace from segments.
func NewNamespace(segments ...string) Namespace {
	return Namespace(segments)
}

// ForUser returns the (kind, userID) namespace used by agents.
func ForUser(kind, userID string) Namespace {
	return Namespace{kind, userID}
}

// String renders the namespace for logs.
func (n Namespace) String() string {
	return "(" + strings.Join(n, ", ") + ")"
}

// HasPrefix reports whether the leading segments of n equal prefix.
func (n Namespace) HasPrefix(prefix Namespace) bool {
	if len(prefix) > len(n) {
		return false
	}
	for i, seg := range prefix {
		if n[i] != seg {
			return false
		}
	}
	return true
}

// Equal reports segment-wise equality.
func (n Namespace) Equal(other Namespace) bool {
	return len(n) == len(other) && n.HasPrefix(other)
}

// validate checks a namespace used for writes and point reads.
func (n Namespace) validate() error {
	if len(n) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidNamespace)
	}
	return n.validatePrefix()
}

// validatePrefix allows the empty namespace, which matches everything.
func (n Namespace) validatePrefix() error {
	for _, seg := range n {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %s", ErrInvalidNamespace, n)
		}
		if strings.Contains(seg, separator) {
			return fmt.Errorf("%w: segment %q contains a reserved character", ErrInvalidNamespace, seg)
		}
	}
	return nil
}

// encode produces a string whose prefixes correspond to namespace prefixes:
// every segment is terminated by the separator.
func (n Namespace) encode() string {
	if len(n) == 0 {
		return ""
	}
	return strings.Join(n, separator) + separator
}

func decodeNamespace(s string) Namespace {
	s = strings.TrimSuffix(s, separator)
	if s == "" {
		return Namespace{}
	}
	return Namespace(strings.Split(s, separator))
}

func validateWrite(ns Namespace, key string) error {
	if err := ns.validate(); err != nil {
		return err
	}
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}

// Item is a stored record.
type Item struct {
	Namespace Namespace      `json:"namespace"`
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Decode copies the record value into a struct using `json` field tags.
func (it *Item) Decode(out any) error {
	return Decode(it.Value, out)
}

// Decode copies a document map into a struct using `json` field tags.
// RFC 3339 strings decode into time.Time fields.
func Decode(value map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(value); err != nil {
		return fmt.Errorf("decode memory value: %w", err)
	}
	return nil
}

// SearchOption narrows a Search.
type SearchOption func(*searchConfig)

type searchConfig struct {
	limit  int
	offset int
	filter map[string]any
}

// WithLimit caps the number of results. Zero means no limit.
func WithLimit(n int) SearchOption {
	return func(c *searchConfig) { c.limit = n }
}

// WithOffset skips the first n results.
func WithOffset(n int) SearchOption {
	return func(c *searchConfig) { c.offset = n }
}

// WithFilter keeps records whose top-level value fields equal the given ones.
func WithFilter(filter map[string]any) SearchOption {
	return func(c *searchConfig) { c.filter = filter }
}

func newSearchConfig(opts []SearchOption) searchConfig {
	var cfg searchConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// apply sorts, filters, and pages a candidate list. Every backend funnels
// its candidates through here so they agree on semantics.
func (c searchConfig) apply(items []Item) []Item {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].Namespace.encode(), items[j].Namespace.encode()
		if a != b {
			return a < b
		}
		return items[i].Key < items[j].Key
	})

	out := items[:0]
	for _, it := range items {
		if c.matches(it) {
			out = append(out, it)
		}
	}

	if c.offset > 0 {
		if c.offset >= len(out) {
			return []Item{}
		}
		out = out[c.offset:]
	}
	if c.limit > 0 && len(out) > c.limit {
		out = out[:c.limit]
	}
	return out
}

func (c searchConfig) matches(it Item) bool {
	for k, want := range c.filter {
		got, ok := it.Value[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// normalize copies a caller's document into the generic JSON shapes the
// persistent stores hand back: typed slices and maps become []any and
// map[string]any, numbers float64. Nothing in the result aliases value.
func normalize(value map[string]any) (map[string]any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal memory value: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal memory value: %w", err)
	}
	return doc, nil
}

// cloneValue deep-copies a normalized document so callers cannot mutate stored data.
func cloneValue(v map[string]any) map[string]any {
	if v == nil {
		return nil
	}
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = cloneAny(val)
	}
	return out
}

func cloneAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneValue(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneAny(item)
		}
		return out
	default:
		return val
	}
}
