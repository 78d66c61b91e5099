// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jeranaias/ollachat/internal/chat"
)

const askLongDesc = `Send one prompt and stream the reply to stdout.

The prompt is taken from the arguments, or read from stdin when there are
none. Reasoning is hidden unless --show-thinking is given, in which case
it goes to stderr. Ctrl+C stops the reply.

Examples:
  ollachat ask "explain TCP slow start"
  git diff | ollachat ask --model qwen3:4b
  ollachat ask --json "one word for happy"`

type askCommander struct {
	global       *globalOptions
	noThink      bool
	showThinking bool
	stats        bool
	save         bool
	jsonOut      bool
}

// askResult is the --json payload.
type askResult struct {
	Model        string      `json:"model"`
	Text         string      `json:"text"`
	Reasoning    string      `json:"reasoning,omitempty"`
	FinishReason string      `json:"finish_reason"`
	Stats        *chat.Stats `json:"stats,omitempty"`
}

func newAskCmd(g *globalOptions) *cobra.Command {
	cmder := &askCommander{global: g}

	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Send one prompt and print the reply",
		Long:  askLongDesc,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&cmder.noThink, "no-think", false, "Treat <think> blocks as answer text")
	flags.BoolVar(&cmder.showThinking, "show-thinking", false, "Print reasoning to stderr")
	flags.BoolVar(&cmder.stats, "stats", false, "Print generation statistics to stderr")
	flags.BoolVar(&cmder.save, "save", false, "Store the exchange in conversation history")
	flags.BoolVar(&cmder.jsonOut, "json", false, "Print the reply as JSON once complete")
	return cmd
}

func (c *askCommander) run(ctx context.Context, cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	a, err := newApp(c.global, appOptions{withHistory: c.save, logWriter: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.selectDefaultModel(ctx); err != nil {
		return err
	}
	if c.noThink {
		a.session.SetThink(false)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	stream, err := a.session.Send(ctx, prompt)
	if err != nil {
		return err
	}

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	if c.jsonOut {
		reply, err := stream.Collect(nil)
		if err != nil {
			return writeJSON(out, "ask", nil, err)
		}
		return writeJSON(out, "ask", askResult{
			Model:        a.session.ModelName(),
			Text:         reply.Text,
			Reasoning:    reply.Reasoning,
			FinishReason: reply.FinishReason,
			Stats:        reply.Stats,
		}, nil)
	}

	reply, err := stream.Collect(func(ev chat.Event) {
		switch ev.Kind {
		case chat.EventAnswer:
			fmt.Fprint(out, ev.Text)
		case chat.EventReasoning:
			if c.showThinking {
				fmt.Fprint(errOut, reasoningStyle.Render(ev.Text))
			}
		}
	})
	if reply.Text != "" && !strings.HasSuffix(reply.Text, "\n") {
		fmt.Fprintln(out)
	}
	if err != nil {
		return err
	}
	if c.stats && reply.Stats != nil {
		s := reply.Stats
		fmt.Fprintln(errOut, infoStyle.Render(fmt.Sprintf("%s: %d prompt tokens, %d reply tokens, %.1f tok/s, %s",
			s.Model, s.PromptTokens, s.EvalTokens, s.TokensPerSecond, s.Elapsed.Round(time.Millisecond))))
	}
	return nil
}

// readPrompt joins args, or reads stdin when there are none.
func readPrompt(in io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", &usageError{msg: "no prompt given; pass it as an argument or pipe it on stdin"}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", &usageError{msg: "empty prompt"}
	}
	return prompt, nil
}
