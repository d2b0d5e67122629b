package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/memory"
)

var patchDocParameters = llm.MustSchema(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"json_doc_id": map[string]any{
			"type":        "string",
			"description": "The ID of the existing document to patch.",
		},
		"planned_edits": map[string]any{
			"type":        "string",
			"description": "A short description of the edits you plan to make.",
		},
		"patches": map[string]any{
			"type":        "array",
			"description": "JSON Patch (RFC 6902) operations to apply to the document.",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"op":    map[string]any{"type": "string", "enum": []string{"add", "remove", "replace", "move", "copy", "test"}},
					"path":  map[string]any{"type": "string", "description": "JSON Pointer to the target location."},
					"from":  map[string]any{"type": "string"},
					"value": map[string]any{},
				},
				"required": []string{"op", "path"},
			},
		},
	},
	"required": []string{"json_doc_id", "planned_edits", "patches"},
})

// Tools returns the tool definitions offered to the model: one creating a
// document of schemaName with the given JSON Schema, and PatchDoc.
func Tools(schemaName string, schema json.RawMessage) []llm.Tool {
	return []llm.Tool{
		{
			Name:        schemaName,
			Description: fmt.Sprintf("Create a new %s document.", schemaName),
			Parameters:  schema,
		},
		{
			Name:        PatchToolName,
			Description: "Edit an existing document by its ID with JSON Patch operations.",
			Parameters:  patchDocParameters,
		},
	}
}

// Extract asks the model for edits to the documents under ns and reconciles
// its answer. The existing documents are listed for the model by key so it
// can choose between creating and patching.
func (r *Reconciler) Extract(ctx context.Context, model llm.Client, ns memory.Namespace, schema json.RawMessage, req llm.CompletionRequest) (*Outcome, error) {
	existing, err := r.store.Search(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("load existing %s documents: %w", r.schema, err)
	}

	req.Tools = Tools(r.schema, schema)
	if req.ToolChoice == "" {
		req.ToolChoice = "required"
	}
	req.ParallelTools = true
	if len(existing) > 0 {
		req.Messages = append(append([]llm.Message(nil), req.Messages...), llm.SystemMessage(describe(r.schema, existing)))
	}

	resp, err := model.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.Reconcile(ctx, ns, resp.ToolCalls)
}

func describe(schema string, items []memory.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Existing %s documents (patch them with %s using their ID):\n", schema, PatchToolName)
	for _, it := range items {
		fmt.Fprintf(&b, "- ID %s: %s\n", it.Key, render(it.Value))
	}
	return b.String()
}
