package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agents"
)

var chatCmd = &cobra.Command{
	Use:   "chat <agent>",
	Short: "Talk to an agent interactively",
	Long: `Reads user messages from stdin, one per line. When the agent suspends for
human input the question is printed and the next line is read as the JSON
answer. Type "exit" or send EOF to stop.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, _ := cmd.Flags().GetString("thread")
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

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a.logger.Info("chat started", "agent", args[0], "thread_id", threadID)
		s := &chatSession{
			graph:  compiled,
			thread: threadID,
			in:     bufio.NewScanner(cmd.InOrStdin()),
			out:    cmd.OutOrStdout(),
		}
		return s.run(ctx)
	},
}

// chatSession is a line-oriented conversation on one thread.
type chatSession struct {
	graph  *agentgraph.CompiledGraph
	thread string
	in     *bufio.Scanner
	out    io.Writer
}

func (c *chatSession) run(ctx context.Context) error {
	pending, err := c.pending(ctx)
	if err != nil {
		return err
	}

	for {
		var (
			res *agentgraph.Result
			err error
		)
		if pending != nil {
			fmt.Fprintf(c.out, "[%s] %s\n", pending.Node, pending.Payload)
			line, ok := c.read("answer> ")
			if !ok {
				return nil
			}
			value, perr := parseValue(line)
			if perr != nil {
				fmt.Fprintln(c.out, perr)
				continue
			}
			res, err = c.graph.Resume(ctx, c.thread, value)
		} else {
			line, ok := c.read("> ")
			if !ok || line == "exit" || line == "quit" {
				return nil
			}
			if line == "" {
				continue
			}
			res, err = c.graph.Invoke(ctx, c.thread, agents.Say(llm.UserMessage(line)))
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(c.out, "error: %v\n", err)
		} else if text := reply(res.State); text != "" && res.Status == agentgraph.StatusCompleted {
			fmt.Fprintln(c.out, text)
		}

		if pending, err = c.pending(ctx); err != nil {
			return err
		}
	}
}

// pending returns the interrupt a suspended thread is waiting on.
func (c *chatSession) pending(ctx context.Context) (*agentgraph.Interrupt, error) {
	snap, err := c.graph.State(ctx, c.thread)
	if errors.Is(err, agentgraph.ErrThreadNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if snap.Status != agentgraph.StatusSuspended {
		return nil, nil
	}
	return snap.Interrupt, nil
}

func (c *chatSession) read(prompt string) (string, bool) {
	fmt.Fprint(c.out, prompt)
	if !c.in.Scan() {
		fmt.Fprintln(c.out)
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("thread", "t", "", "Thread ID (default: new thread)")
}
