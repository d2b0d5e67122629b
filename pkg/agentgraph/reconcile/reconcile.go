// Package reconcile merges model-proposed document edits into the memory
// store.
//
// A model extracting structured memories answers with tool calls: either a
// call named after the document schema (create a new document) or a
// PatchDoc call (edit an existing one with JSON Patch operations). The
// Reconciler turns those calls into Deltas, writes them to the store, and
// renders the changelog that is handed back to the model as a tool result.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/memory"
)

// PatchToolName is the tool the model calls to edit an existing document.
const PatchToolName = "PatchDoc"

// Sentinel errors.
var (
	// ErrDocumentNotFound indicates a PatchDoc call targeting a missing document.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrUnknownTool indicates a tool call that is neither the schema tool nor PatchDoc.
	ErrUnknownTool = errors.New("unknown tool call")

	// ErrInvalidArguments indicates tool call arguments that do not decode.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Kind tags a Delta.
type Kind int

const (
	// KindNew is a freshly created document.
	KindNew Kind = iota
	// KindUpdate is a patched existing document.
	KindUpdate
)

func (k Kind) String() string {
	switch k {
	case KindNew:
		return "new"
	case KindUpdate:
		return "update"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Delta is one change written to the store.
type Delta struct {
	Kind Kind
	// Schema is the document schema name.
	Schema string
	// Key is the record key: a fresh UUID for KindNew, the target for KindUpdate.
	Key string
	// Plan is the model's description of its edits. Empty for KindNew.
	Plan string
	// Value is the full document as stored.
	Value map[string]any
	// Added is what the changelog reports as new content.
	Added any
	// CallID is the tool call that produced the delta.
	CallID string
}

// Changelog renders the delta the way it is reported back to the model.
func (d Delta) Changelog() string {
	if d.Kind == KindNew {
		return fmt.Sprintf("New %s created:\nContent: %s", d.Schema, render(d.Value))
	}
	return fmt.Sprintf("Document %s updated:\nPlan: %s\nAdded content: %s", d.Key, d.Plan, render(d.Added))
}

// Outcome is the result of one Reconcile call.
type Outcome struct {
	Deltas []Delta
	// Changelog is every delta's changelog joined by a blank line.
	Changelog string
}

// PatchDocArgs are the arguments of a PatchDoc call.
type PatchDocArgs struct {
	DocID   string  `json:"json_doc_id"`
	Plan    string  `json:"planned_edits"`
	Patches []Patch `json:"patches"`
}

// Reconciler applies extraction tool calls for one document schema.
// It is safe for concurrent use when its store is.
type Reconciler struct {
	store  memory.Store
	schema string
	newKey func() string
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithKeyFunc overrides how keys for new documents are generated.
func WithKeyFunc(fn func() string) Option {
	return func(r *Reconciler) {
		if fn != nil {
			r.newKey = fn
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Reconciler writing documents of schemaName into store.
func New(store memory.Store, schemaName string, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		schema: schemaName,
		newKey: uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schema returns the schema name the reconciler creates documents for.
func (r *Reconciler) Schema() string {
	return r.schema
}

// Reconcile turns tool calls into deltas and writes them under ns.
//
// Every call is validated before anything is written, so a bad call leaves
// the store untouched. Several patches to one document in a batch apply in
// order, each seeing the previous result.
func (r *Reconciler) Reconcile(ctx context.Context, ns memory.Namespace, calls []llm.ToolCall) (*Outcome, error) {
	pending := make(map[string]map[string]any)
	deltas := make([]Delta, 0, len(calls))

	for _, call := range calls {
		var (
			d   Delta
			err error
		)
		switch call.Name {
		case r.schema:
			d, err = r.create(call)
		case PatchToolName:
			d, err = r.patch(ctx, ns, call, pending)
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
		}
		if err != nil {
			return nil, err
		}
		pending[d.Key] = d.Value
		deltas = append(deltas, d)
	}

	for _, d := range deltas {
		if err := r.store.Put(ctx, ns, d.Key, d.Value); err != nil {
			return nil, fmt.Errorf("store %s %s: %w", r.schema, d.Key, err)
		}
		r.logger.Debug("document reconciled",
			"namespace", ns.String(),
			"key", d.Key,
			"kind", d.Kind.String(),
		)
	}

	logs := make([]string, len(deltas))
	for i, d := range deltas {
		logs[i] = d.Changelog()
	}
	return &Outcome{Deltas: deltas, Changelog: strings.Join(logs, "\n\n")}, nil
}

func (r *Reconciler) create(call llm.ToolCall) (Delta, error) {
	var doc map[string]any
	if err := call.Decode(&doc); err != nil {
		return Delta{}, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, call.Name, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return Delta{
		Kind:   KindNew,
		Schema: r.schema,
		Key:    r.newKey(),
		Value:  doc,
		CallID: call.ID,
	}, nil
}

func (r *Reconciler) patch(ctx context.Context, ns memory.Namespace, call llm.ToolCall, pending map[string]map[string]any) (Delta, error) {
	var args PatchDocArgs
	if err := call.Decode(&args); err != nil {
		return Delta{}, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, call.Name, err)
	}
	if args.DocID == "" {
		return Delta{}, fmt.Errorf("%w: %s: json_doc_id is required", ErrInvalidArguments, call.Name)
	}

	current, ok := pending[args.DocID]
	if !ok {
		item, err := r.store.Get(ctx, ns, args.DocID)
		if errors.Is(err, memory.ErrNotFound) {
			return Delta{}, fmt.Errorf("%w: %s in %s", ErrDocumentNotFound, args.DocID, ns)
		}
		if err != nil {
			return Delta{}, fmt.Errorf("load %s: %w", args.DocID, err)
		}
		current = item.Value
	}

	updated, err := Apply(current, args.Patches)
	if err != nil {
		return Delta{}, fmt.Errorf("patch %s: %w", args.DocID, err)
	}

	return Delta{
		Kind:   KindUpdate,
		Schema: r.schema,
		Key:    args.DocID,
		Plan:   args.Plan,
		Value:  updated,
		Added:  addedContent(args.Patches, updated),
		CallID: call.ID,
	}, nil
}

// addedContent is the first patch value, or the whole document when no
// patch carries one.
func addedContent(patches []Patch, doc map[string]any) any {
	for _, p := range patches {
		if p.Value != nil {
			return p.Value
		}
	}
	return doc
}

func render(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
