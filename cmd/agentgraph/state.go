package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state <agent>",
	Short: "Print the latest checkpoint of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, _ := cmd.Flags().GetString("thread")
		withHistory, _ := cmd.Flags().GetBool("history")
		if threadID == "" {
			return errors.New("--thread is required")
		}

		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		compiled, err := a.compile(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := a.context(cmd.Context())
		defer cancel()

		snap, err := compiled.State(ctx, threadID)
		if err != nil {
			return err
		}
		out := newStateOutput(snap, nil)
		if withHistory {
			history, err := compiled.History(ctx, threadID)
			if err != nil {
				return err
			}
			out = newStateOutput(snap, history)
		}
		return writeJSON(cmd.OutOrStdout(), out)
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <agent>",
	Short: "Delete every checkpoint of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, _ := cmd.Flags().GetString("thread")
		if threadID == "" {
			return errors.New("--thread is required")
		}

		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		compiled, err := a.compile(args[0])
		if err != nil {
			return err
		}
		return compiled.Reset(cmd.Context(), threadID)
	},
}

func init() {
	rootCmd.AddCommand(stateCmd, forgetCmd)

	stateCmd.Flags().StringP("thread", "t", "", "Thread ID")
	stateCmd.Flags().Bool("history", false, "Include every checkpoint step")

	forgetCmd.Flags().StringP("thread", "t", "", "Thread ID")
}
