package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
)

func TestNew(t *testing.T) {
	assert.NotNil(t, config.New(nil).Raw())
	assert.Equal(t, "v", config.New(map[string]any{"k": "v"}).String("k", ""))
}

func TestAccessors(t *testing.T) {
	cfg := config.New(map[string]any{
		"name":    "alice",
		"timeout": "30s",
		"retry":   2,
		"secs":    1.5,
		"ratio":   3,
		"whole":   4.0,
		"frac":    4.5,
		"enabled": true,
		"tags":    []any{"a", "b"},
		"mixed":   []any{"a", 1},
	})

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"string", cfg.String("name", "x"), "alice"},
		{"string wrong type", cfg.String("retry", "x"), "x"},
		{"string missing", cfg.String("missing", "x"), "x"},
		{"duration string", cfg.Duration("timeout", time.Second), 30 * time.Second},
		{"duration int seconds", cfg.Duration("retry", time.Second), 2 * time.Second},
		{"duration float seconds", cfg.Duration("secs", time.Second), 1500 * time.Millisecond},
		{"duration invalid", cfg.Duration("name", time.Second), time.Second},
		{"int", cfg.Int("retry", 0), 2},
		{"int from whole float", cfg.Int("whole", 0), 4},
		{"int from fractional float", cfg.Int("frac", 7), 7},
		{"float from int", cfg.Float("ratio", 0), 3.0},
		{"bool", cfg.Bool("enabled", false), true},
		{"bool wrong type", cfg.Bool("name", false), false},
		{"string slice", cfg.StringSlice("tags", nil), []string{"a", "b"}},
		{"string slice mixed", cfg.StringSlice("mixed", []string{"d"}), []string{"d"}},
		{"any", cfg.Any("retry", nil), 2},
		{"any missing", cfg.Any("missing", "d"), "d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestDottedKeys(t *testing.T) {
	cfg := config.New(map[string]any{
		"storage": map[string]any{
			"backend": "redis",
			"redis":   map[string]any{"addr": "localhost:6379", "db": 2},
		},
		"literal.key": "wins",
	})

	assert.Equal(t, "redis", cfg.String("storage.backend", ""))
	assert.Equal(t, 2, cfg.Int("storage.redis.db", 0))
	assert.Equal(t, "wins", cfg.String("literal.key", ""))
	assert.True(t, cfg.Has("storage.redis.addr"))
	assert.False(t, cfg.Has("storage.sqlite.path"))
	assert.False(t, cfg.Has("storage.backend.deeper"))

	sub := cfg.Sub("storage.redis")
	assert.Equal(t, "localhost:6379", sub.String("addr", ""))
	assert.Empty(t, cfg.Sub("missing").Raw())
}

func TestWithAndMerge(t *testing.T) {
	base := config.New(map[string]any{"user_id": "a", "model": "m1"})

	next := base.With("user_id", "b")
	assert.Equal(t, "b", next.String("user_id", ""))
	assert.Equal(t, "a", base.String("user_id", ""), "With must not mutate the receiver")

	merged := base.Merge(config.New(map[string]any{"model": "m2", "extra": 1}))
	assert.Equal(t, "m2", merged.String("model", ""))
	assert.Equal(t, "a", merged.String("user_id", ""))
	assert.Equal(t, 1, merged.Int("extra", 0))
}

func TestDecode(t *testing.T) {
	type storage struct {
		Backend string        `json:"backend"`
		Path    string        `json:"path"`
		TTL     time.Duration `json:"ttl"`
		DB      int           `json:"db"`
	}

	cfg, err := config.FromYAML([]byte(`
storage:
  backend: sqlite
  path: agent.db
  ttl: 90s
  db: "3"
`))
	require.NoError(t, err)

	var got storage
	require.NoError(t, cfg.Sub("storage").Decode(&got))
	assert.Equal(t, storage{Backend: "sqlite", Path: "agent.db", TTL: 90 * time.Second, DB: 3}, got)
}

func TestFromJSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{"user_id": "lance", "max_steps": 25}`))
	require.NoError(t, err)
	assert.Equal(t, "lance", cfg.String("user_id", ""))
	assert.Equal(t, 25, cfg.Int("max_steps", 0))

	_, err = config.FromJSON([]byte(`{not json`))
	assert.Error(t, err)
}

func TestFromYAML_Invalid(t *testing.T) {
	_, err := config.FromYAML([]byte("a: [unterminated"))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AGENTGRAPH_TEST_ADDR", "redis:6379")

	yamlPath := filepath.Join(dir, "config.YAML")
	require.NoError(t, os.WriteFile(yamlPath, []byte("storage:\n  addr: ${AGENTGRAPH_TEST_ADDR}\n"), 0o600))
	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "redis:6379", cfg.String("storage.addr", ""))

	jsonPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"agent": "jokes"}`), 0o600))
	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "jokes", cfg.String("agent", ""))

	_, err = config.FromFile(filepath.Join(dir, "config.toml"))
	assert.Error(t, err)

	txtPath := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o600))
	_, err = config.FromFile(txtPath)
	assert.ErrorContains(t, err, "unsupported")
}
