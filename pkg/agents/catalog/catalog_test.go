package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agents/catalog"
	"github.com/randalmurphal/agentgraph/pkg/agents/searcher"
)

func TestCatalog_Names(t *testing.T) {
	r := catalog.New(catalog.Deps{})
	assert.Equal(t, []string{catalog.JokeGenerator, catalog.TodosManager, catalog.WebSearcher}, r.Names())
}

func TestCatalog_EveryAgentCompiles(t *testing.T) {
	r := catalog.New(catalog.Deps{Searcher: searcher.StaticSearcher{}})
	for _, name := range r.Names() {
		t.Run(name, func(t *testing.T) {
			e, ok := r.Get(name)
			require.True(t, ok)
			assert.NotEmpty(t, e.Description)

			g, err := r.Build(name)
			require.NoError(t, err)
			compiled, err := g.Compile(nil)
			require.NoError(t, err)
			assert.NotEmpty(t, compiled.EntryPoint())
		})
	}
}
