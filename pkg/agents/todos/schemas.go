package todos

import (
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
)

// Document schema names, as seen by the model.
const (
	ProfileSchema = "Profile"
	ToDoSchema    = "ToDo"
)

// InstructionsKey is the record key of the user's instructions.
const InstructionsKey = "user_instructions"

// Update types the model chooses between.
const (
	UpdateUser         = "user"
	UpdateTodo         = "todo"
	UpdateInstructions = "instructions"
)

// Profile is what the agent knows about the user.
type Profile struct {
	Name        string   `json:"name,omitempty"`
	Location    string   `json:"location,omitempty"`
	Job         string   `json:"job,omitempty"`
	Connections []string `json:"connections,omitempty"`
	Interests   []string `json:"interests,omitempty"`
}

// ToDo is one task on the user's list.
type ToDo struct {
	Task           string     `json:"task"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
	TimeToComplete int        `json:"time_to_complete,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	Solutions      []string   `json:"solutions,omitempty"`
	Status         string     `json:"status,omitempty"`
}

// UpdateMemory is the tool call the manager uses to ask for a memory update.
type UpdateMemory struct {
	UpdateType  string `json:"update_type"`
	TodoItemKey string `json:"todo_item_key,omitempty"`
}

var profileParameters = llm.MustSchema(map[string]any{
	"type":        "object",
	"description": "This is the profile of the user you are chatting with.",
	"properties": map[string]any{
		"name":     map[string]any{"type": "string", "description": "The name of the user."},
		"location": map[string]any{"type": "string", "description": "Where the user lives. Include place and state name, e.g. Austin, TX"},
		"job":      map[string]any{"type": "string", "description": "The user's job. Include company name and title if possible."},
		"connections": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "List of people user knows. Include person name and relationship if possible, e.g. John Doe, Brother",
		},
		"interests": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "List of the user's interests, hobbies, and passions",
		},
	},
})

var todoParameters = llm.MustSchema(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"task":       map[string]any{"type": "string", "description": "The task to be completed."},
		"created_at": map[string]any{"type": "string", "format": "date-time", "description": "When the task was created."},
		"updated_at": map[string]any{"type": "string", "format": "date-time", "description": "When the task was last updated."},
		"time_to_complete": map[string]any{
			"type":        "integer",
			"description": "Estimated time to complete the task (minutes).",
		},
		"deadline": map[string]any{
			"type":        "string",
			"format":      "date-time",
			"description": "When the task needs to be completed by (if applicable)",
		},
		"solutions": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"minItems":    1,
			"description": "List of specific, actionable solutions relevant to completing the task",
		},
		"status": map[string]any{
			"type":        "string",
			"enum":        []string{"not started", "in progress", "done", "archived"},
			"description": "Current status of the task",
		},
	},
	"required": []string{"task"},
})

var updateMemoryTool = llm.Tool{
	Name:        "UpdateMemory",
	Description: "Decide which type of memory to update.",
	Parameters: llm.MustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"update_type": map[string]any{
				"type": "string",
				"enum": []string{UpdateUser, UpdateTodo, UpdateInstructions},
				"description": "The type of memory to update. Use 'user' for user profile, " +
					"'todo' for ToDo list, and 'instructions' for instructions on how to update the ToDo list.",
			},
			"todo_item_key": map[string]any{
				"type":        "string",
				"description": "Key of the ToDo item to delete, when the update is a deletion.",
			},
		},
		"required": []string{"update_type"},
	}),
}
