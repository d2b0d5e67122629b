package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
)

// Storage backends.
const (
	backendMemory = "memory"
	backendSQLite = "sqlite"
	backendRedis  = "redis"
)

// settings is the configuration of one invocation: flag defaults, then the
// config file, then flags set on the command line.
type settings struct {
	Storage     storageSettings `json:"storage"`
	Model       modelSettings   `json:"model"`
	Search      searchSettings  `json:"search"`
	UserID      string          `json:"user_id"`
	MaxSteps    int             `json:"max_steps"`
	Timeout     time.Duration   `json:"timeout"`
	MetricsAddr string          `json:"metrics_addr"`
	Log         logSettings     `json:"log"`

	// Run is passed to every run as its configuration; user_id is added.
	Run map[string]any `json:"run"`
}

type storageSettings struct {
	Backend string        `json:"backend"`
	Path    string        `json:"path"`
	Redis   redisSettings `json:"redis"`
}

type redisSettings struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type modelSettings struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

type searchSettings struct {
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	MaxResults int    `json:"max_results"`
}

type logSettings struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

// loadSettings merges flag defaults, the --config file, and changed flags.
func loadSettings(cmd *cobra.Command) (settings, error) {
	flags := cmd.Flags()
	str := func(name string) string {
		v, _ := flags.GetString(name)
		return v
	}
	logJSON, _ := flags.GetBool("log-json")

	s := settings{
		Storage: storageSettings{
			Backend: str("store"),
			Path:    str("db"),
			Redis:   redisSettings{Addr: str("redis-addr")},
		},
		Model:       modelSettings{Name: str("model")},
		Search:      searchSettings{MaxResults: 2},
		UserID:      str("user"),
		MaxSteps:    50,
		Timeout:     5 * time.Minute,
		MetricsAddr: str("metrics-addr"),
		Log:         logSettings{Level: str("log-level"), JSON: logJSON},
	}

	if path := str("config"); path != "" {
		cfg, err := config.FromFile(path)
		if err != nil {
			return settings{}, err
		}
		if err := cfg.Decode(&s); err != nil {
			return settings{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	overrides := map[string]func(){
		"store":        func() { s.Storage.Backend = str("store") },
		"db":           func() { s.Storage.Path = str("db") },
		"redis-addr":   func() { s.Storage.Redis.Addr = str("redis-addr") },
		"user":         func() { s.UserID = str("user") },
		"model":        func() { s.Model.Name = str("model") },
		"metrics-addr": func() { s.MetricsAddr = str("metrics-addr") },
		"log-level":    func() { s.Log.Level = str("log-level") },
		"log-json":     func() { s.Log.JSON = logJSON },
	}
	for name, apply := range overrides {
		if flags.Changed(name) {
			apply()
		}
	}

	if s.Search.APIKey == "" {
		s.Search.APIKey = os.Getenv("TAVILY_API_KEY")
	}
	return s, s.validate()
}

func (s settings) validate() error {
	switch s.Storage.Backend {
	case backendMemory, backendSQLite, backendRedis:
	default:
		return fmt.Errorf("unknown storage backend %q", s.Storage.Backend)
	}
	if s.Storage.Backend == backendSQLite && s.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the sqlite backend")
	}
	if s.UserID == "" {
		return fmt.Errorf("user_id must not be empty")
	}
	return nil
}

// runConfig is the per-run configuration handed to nodes.
func (s settings) runConfig() map[string]any {
	out := make(map[string]any, len(s.Run)+1)
	for k, v := range s.Run {
		out[k] = v
	}
	out["user_id"] = s.UserID
	return out
}
