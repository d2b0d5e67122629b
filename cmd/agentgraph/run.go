package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agents"
)

var runCmd = &cobra.Command{
	Use:   "run <agent>",
	Short: "Send a user message to an agent thread",
	Long: `Runs the agent on a thread until it completes or suspends for human input.
A new thread ID is generated when --thread is omitted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")
		threadID, _ := cmd.Flags().GetString("thread")
		if message == "" {
			return errors.New("--message is required")
		}
		if threadID == "" {
			threadID = uuid.NewString()
		}

		a, err := newApp(cmd, true)
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

		res, err := compiled.Invoke(ctx, threadID, agents.Say(llm.UserMessage(message)))
		return report(cmd, res, err)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <agent>",
	Short: "Answer a suspended thread",
	Long: `Resumes a thread suspended for human input. --value is the JSON answer,
e.g. '{"action":"continue"}' for a web search review.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, _ := cmd.Flags().GetString("thread")
		raw, _ := cmd.Flags().GetString("value")
		if threadID == "" {
			return errors.New("--thread is required")
		}
		value, err := parseValue(raw)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, true)
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

		res, err := compiled.Resume(ctx, threadID, value)
		return report(cmd, res, err)
	},
}

// parseValue decodes a resume value given as JSON.
func parseValue(raw string) (any, error) {
	if raw == "" {
		return nil, errors.New("--value is required")
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("--value must be JSON: %w", err)
	}
	return v, nil
}

// report prints the result, when there is one, and returns err.
func report(cmd *cobra.Command, res *agentgraph.Result, err error) error {
	if res != nil {
		if werr := writeJSON(cmd.OutOrStdout(), newRunOutput(res, err)); werr != nil {
			return errors.Join(err, werr)
		}
	}
	return err
}

func init() {
	rootCmd.AddCommand(runCmd, resumeCmd)

	runCmd.Flags().StringP("message", "m", "", "User message")
	runCmd.Flags().StringP("thread", "t", "", "Thread ID (default: new thread)")

	resumeCmd.Flags().StringP("thread", "t", "", "Thread ID")
	resumeCmd.Flags().String("value", "", "Resume value as JSON")
}
