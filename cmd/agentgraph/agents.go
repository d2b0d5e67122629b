package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentgraph/pkg/agents/catalog"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the available agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		r := catalog.New(catalog.Deps{})
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, name := range r.Names() {
			e, _ := r.Get(name)
			fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}
