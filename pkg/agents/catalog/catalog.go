// Package catalog registers every agent under its public name.
package catalog

import (
	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agents"
	"github.com/randalmurphal/agentgraph/pkg/agents/jokes"
	"github.com/randalmurphal/agentgraph/pkg/agents/searcher"
	"github.com/randalmurphal/agentgraph/pkg/agents/todos"
)

// Agent names.
const (
	WebSearcher   = "web_searcher"
	JokeGenerator = "joke_generator"
	TodosManager  = "todos_manager"
)

// Deps are the external services agents are built with.
type Deps struct {
	// Searcher backs web_searcher. Nil means search is unavailable.
	Searcher searcher.Searcher
}

// New returns a registry holding every agent.
func New(deps Deps) *agents.Registry {
	r := agents.NewRegistry()
	// Names are constants and distinct; Register cannot fail here.
	_ = r.Register(WebSearcher, "chat assistant with human-reviewed web search", func() (*agentgraph.Graph, error) {
		return searcher.New(searcher.WithSearcher(deps.Searcher))
	})
	_ = r.Register(JokeGenerator, "generates jokes per subject and tells the best one", jokes.New)
	_ = r.Register(TodosManager, "keeps a ToDo list, profile, and preferences in long-term memory", func() (*agentgraph.Graph, error) {
		return todos.New()
	})
	return r
}
