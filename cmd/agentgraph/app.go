package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentgraph/internal/logging"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/memory"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
	"github.com/randalmurphal/agentgraph/pkg/agents"
	"github.com/randalmurphal/agentgraph/pkg/agents/catalog"
	"github.com/randalmurphal/agentgraph/pkg/agents/searcher"
)

// app holds everything one command invocation needs.
type app struct {
	settings    settings
	logger      *slog.Logger
	registry    *agents.Registry
	checkpoints checkpoint.Store
	memory      memory.Store
	model       llm.Client
	metrics     observability.MetricsRecorder
	server      *http.Server
	metricsAddr string
}

// newApp loads settings and opens the stores. The model client is created
// only when withModel is set, so read-only commands work without an API key.
func newApp(cmd *cobra.Command, withModel bool) (*app, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(s.Log.Level)
	if err != nil {
		return nil, err
	}

	a := &app{
		settings: s,
		logger:   logging.New(os.Stderr, level, s.Log.JSON),
		registry: catalog.New(catalog.Deps{Searcher: newSearcher(s.Search)}),
	}

	if err := a.openStores(); err != nil {
		return nil, err
	}
	if withModel {
		opts := []llm.OpenAIOption{llm.WithClientLogger(a.logger)}
		if s.Model.Name != "" {
			opts = append(opts, llm.WithModel(s.Model.Name))
		}
		if s.Model.BaseURL != "" {
			opts = append(opts, llm.WithBaseURL(s.Model.BaseURL))
		}
		a.model, err = llm.NewOpenAIClient(opts...)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	if s.MetricsAddr != "" {
		if err := a.serveMetrics(s.MetricsAddr); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func newSearcher(s searchSettings) searcher.Searcher {
	if s.APIKey == "" {
		return nil
	}
	return searcher.NewTavilySearcher(s.APIKey, s.BaseURL)
}

// openStores opens the checkpoint and memory stores on the configured backend.
func (a *app) openStores() error {
	st := a.settings.Storage
	switch st.Backend {
	case backendMemory:
		a.checkpoints = checkpoint.NewMemoryStore()
		a.memory = memory.NewInMemoryStore()
	case backendSQLite:
		cps, err := checkpoint.NewSQLiteStore(st.Path)
		if err != nil {
			return fmt.Errorf("open checkpoints: %w", err)
		}
		mem, err := memory.NewSQLiteStore(st.Path)
		if err != nil {
			cps.Close()
			return fmt.Errorf("open memory: %w", err)
		}
		a.checkpoints, a.memory = cps, mem
	case backendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     st.Redis.Addr,
			Password: st.Redis.Password,
			DB:       st.Redis.DB,
		})
		a.checkpoints = checkpoint.NewRedisStoreFromClient(client, checkpoint.WithRedisPrefix("agentgraph:cp:"))
		a.memory = memory.NewRedisStoreFromClient(client, memory.WithRedisPrefix("agentgraph:mem:"))
	default:
		return fmt.Errorf("unknown storage backend %q", st.Backend)
	}
	a.logger.Debug("stores opened", "backend", st.Backend)
	return nil
}

// serveMetrics exposes Prometheus metrics until Close.
func (a *app) serveMetrics(addr string) error {
	reg := prometheus.NewRegistry()
	m, err := observability.NewPrometheusMetrics(reg)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.metrics = m
	a.metricsAddr = ln.Addr().String()

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", a.metricsAddr)
	return nil
}

// compile builds the named agent against the app's stores and model.
func (a *app) compile(name string) (*agentgraph.CompiledGraph, error) {
	g, err := a.registry.Build(name)
	if err != nil {
		return nil, err
	}
	opts := []agentgraph.Option{
		agentgraph.WithName(name),
		agentgraph.WithLogger(a.logger),
		agentgraph.WithStore(a.memory),
		agentgraph.WithConfig(a.settings.runConfig()),
		agentgraph.WithMaxSteps(a.settings.MaxSteps),
	}
	if a.model != nil {
		opts = append(opts, agentgraph.WithModel(a.model))
	}
	if a.metrics != nil {
		opts = append(opts, agentgraph.WithMetrics(a.metrics))
	}
	return g.Compile(a.checkpoints, opts...)
}

// context bounds a command by the configured timeout.
func (a *app) context(parent context.Context) (context.Context, context.CancelFunc) {
	if a.settings.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, a.settings.Timeout)
}

// Close shuts the metrics server down and closes the stores.
func (a *app) Close() error {
	var errs []error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, a.server.Shutdown(ctx))
		cancel()
	}
	if a.checkpoints != nil {
		errs = append(errs, a.checkpoints.Close())
	}
	if a.memory != nil {
		errs = append(errs, a.memory.Close())
	}
	return errors.Join(errs...)
}
