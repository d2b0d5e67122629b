package agentgraph

import (
	"context"
	"errors"
	"sync"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
)

// testSchema is the state most tests run on: a trail of visited nodes, a
// counter, and free-form replace fields.
func testSchema() *Schema {
	return NewSchema(
		AppendField[string]("trail"),
		DefaultField[int]("count", 0),
		ReplaceField[string]("output"),
	)
}

// tracker records node executions across goroutines.
type tracker struct {
	mu    sync.Mutex
	calls []string
}

func (tr *tracker) record(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls = append(tr.calls, name)
}

func (tr *tracker) Calls() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.calls...)
}

// visit returns a node that appends its name to "trail".
func visit(name string, tr *tracker) NodeFunc {
	return func(ctx Context, s State) (Command, error) {
		if tr != nil {
			tr.record(name)
		}
		return Update(State{"trail": Append(name)}), nil
	}
}

// increment returns a node that adds one to "count".
func increment(ctx Context, s State) (Command, error) {
	return Update(State{"count": Get[int](s, "count") + 1}), nil
}

func passthrough(ctx Context, s State) (Command, error) {
	return Update(nil), nil
}

func failing(err error) NodeFunc {
	return func(ctx Context, s State) (Command, error) {
		return Command{}, err
	}
}

func panicking(value any) NodeFunc {
	return func(ctx Context, s State) (Command, error) {
		panic(value)
	}
}

// linearGraph builds a -> b -> c -> END over testSchema.
func linearGraph(tr *tracker) *Graph {
	return NewGraph(testSchema()).
		AddNode("a", visit("a", tr)).
		AddNode("b", visit("b", tr)).
		AddNode("c", visit("c", tr)).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a")
}

// failingStore fails Save after a number of successful saves.
type failingStore struct {
	checkpoint.Store
	mu        sync.Mutex
	remaining int
}

var errStoreDown = errors.New("store down")

func (s *failingStore) Save(ctx context.Context, threadID string, step int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remaining <= 0 {
		return errStoreDown
	}
	s.remaining--
	return s.Store.Save(ctx, threadID, step, data)
}

func testCtx() context.Context {
	return context.Background()
}
