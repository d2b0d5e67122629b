/*
Package config provides type-safe configuration extraction from map[string]any.

It serves two roles: the per-run configuration handed to nodes (the
"user_id" that scopes memory namespaces, the model name) and the file
configuration read by the agentgraph command.

# Basic Usage

	cfg := config.New(map[string]any{
	    "user_id": "lance",
	    "storage": map[string]any{"backend": "sqlite", "path": "agent.db"},
	})

	user := cfg.String("user_id", "default-user")
	backend := cfg.String("storage.backend", "memory")

Accessors return the default when a key is missing or has the wrong type.
Numbers convert between int and float64 only when no precision is lost.

# Files

FromFile detects YAML or JSON by extension. Nested sections can be read with
dotted keys, extracted with Sub, or decoded into a struct with Decode.

	cfg, err := config.FromFile("agentgraph.yaml")
	var store StoreConfig
	err = cfg.Sub("storage").Decode(&store)

# Thread Safety

Config is safe for concurrent reads. With and Merge return copies.
*/
package config
