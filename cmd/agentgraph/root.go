package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentgraph",
	Short: "Run conversational agent graphs",
	Long: `agentgraph runs the bundled agents (web_searcher, joke_generator,
todos_manager) with checkpointed threads and long-term memory.

Results are printed to stdout as JSON; logs go to stderr.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	addGlobalFlags(rootCmd)
}

// addGlobalFlags registers the flags every command shares.
func addGlobalFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("config", "", "Config file (.yaml, .yml, or .json)")
	pf.String("store", "sqlite", "Storage backend: memory, sqlite, or redis")
	pf.String("db", "agentgraph.db", "SQLite database path")
	pf.String("redis-addr", "localhost:6379", "Redis address")
	pf.String("user", "default", "User ID that scopes long-term memory")
	pf.String("model", "", "Model name (default $OPENAI_MODEL or gpt-4o-mini)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.Bool("log-json", false, "Write logs as JSON")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :2112")
}
