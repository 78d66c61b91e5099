// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package repl is the line-mode chat shell.
//
// On a terminal it reads input with liner (history, editing and tab
// completion of slash commands). Otherwise it reads stdin line by line so
// prompts can be piped in. Replies are printed as they stream.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/commands"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/session"
	"github.com/jeranaias/ollachat/internal/storage"
	"github.com/jeranaias/ollachat/internal/ui/styles"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle    = lipgloss.NewStyle().Foreground(styles.Cyan).Bold(true)
	welcomeStyle   = lipgloss.NewStyle().Foreground(styles.Purple).Bold(true)
	infoStyle      = lipgloss.NewStyle().Foreground(styles.TextSecondary)
	reasoningStyle = lipgloss.NewStyle().Foreground(styles.TextMuted).Italic(true)
	warningStyle   = lipgloss.NewStyle().Foreground(styles.Amber)
	errorStyle     = lipgloss.NewStyle().Foreground(styles.Rose).Bold(true)
)

// =============================================================================
// REPL
// =============================================================================

// Options configure the line shell.
type Options struct {
	Session  *session.Session
	Commands *commands.Registry
	Env      *commands.Env

	// In defaults to os.Stdin. Line editing is only used when In is a terminal.
	In  io.Reader
	Out io.Writer
	Err io.Writer

	// HistoryFile keeps typed lines across runs; empty disables it
	HistoryFile string

	// Quiet hides the banner and per-reply statistics
	Quiet bool

	Logger *zap.Logger
}

// REPL reads prompts and commands and prints streamed replies.
type REPL struct {
	sess   *session.Session
	cmds   *commands.Registry
	env    *commands.Env
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	quiet  bool
	logger *zap.Logger

	historyFile string
	completer   *commands.Completer
}

// New creates a line shell.
func New(opts Options) *REPL {
	r := &REPL{
		sess:        opts.Session,
		cmds:        opts.Commands,
		env:         opts.Env,
		in:          opts.In,
		out:         opts.Out,
		errOut:      opts.Err,
		quiet:       opts.Quiet,
		logger:      opts.Logger,
		historyFile: opts.HistoryFile,
	}
	if r.in == nil {
		r.in = os.Stdin
	}
	if r.out == nil {
		r.out = os.Stdout
	}
	if r.errOut == nil {
		r.errOut = os.Stderr
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.completer = commands.NewCompleter(r.cmds)
	r.completer.ModelsFn = r.modelNames
	return r
}

// Run reads input until EOF, /quit or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	reader := r.newReader()
	defer reader.Close()

	if !r.quiet {
		r.printWelcome(ctx)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line, err := reader.ReadLine(promptStyle.Render("ollachat> "))
		if errors.Is(err, errAborted) {
			fmt.Fprintln(r.out, infoStyle.Render("(type /quit or press Ctrl+D to exit)"))
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return err
			}
			fmt.Fprintln(r.out)
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if commands.IsCommand(line) {
			if quit := r.runCommand(ctx, line); quit {
				return nil
			}
			continue
		}

		if err := r.Send(ctx, line); err != nil {
			r.printError(err)
		}
	}
}

// runCommand executes a slash command and reports whether the shell should exit.
func (r *REPL) runCommand(ctx context.Context, line string) bool {
	res, err := r.cmds.Execute(ctx, r.env, line)
	if err != nil {
		r.printError(err)
		return false
	}
	if res.Output != "" {
		fmt.Fprintln(r.out, res.Output)
	}
	return res.Quit
}

// =============================================================================
// STREAMING
// =============================================================================

// Send sends text and prints the reply as it streams. Reasoning is printed
// in a muted style ahead of the answer.
func (r *REPL) Send(ctx context.Context, text string) error {
	stream, err := r.sess.Send(ctx, text)
	if err != nil {
		return err
	}
	stop := r.cancelOnInterrupt(stream)
	defer stop()

	inReasoning := false
	wrote := false
	for ev := range stream.Events() {
		switch ev.Kind {
		case chat.EventReasoning:
			if !inReasoning {
				fmt.Fprint(r.out, reasoningStyle.Render("thinking: "))
				inReasoning = true
			}
			fmt.Fprint(r.out, reasoningStyle.Render(ev.Text))
			wrote = true

		case chat.EventAnswer:
			if inReasoning {
				fmt.Fprint(r.out, "\n\n")
				inReasoning = false
			}
			fmt.Fprint(r.out, ev.Text)
			wrote = true

		case chat.EventDone:
			fmt.Fprintln(r.out)
			if !r.quiet && ev.Stats != nil {
				fmt.Fprintln(r.out, infoStyle.Render(formatStats(ev.Stats)))
			}

		case chat.EventFailed:
			if wrote {
				fmt.Fprintln(r.out)
			}
			if ollama.IsCancelled(ev.Err) {
				fmt.Fprintln(r.errOut, warningStyle.Render("[stopped]"))
				return nil
			}
			return ev.Err
		}
	}
	return nil
}

// cancelOnInterrupt stops stream on SIGINT until the returned func is called.
// At the prompt Ctrl+C is left to the line editor.
func (r *REPL) cancelOnInterrupt(stream *chat.Stream) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			r.logger.Debug("generation interrupted")
			stream.Cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func formatStats(s *chat.Stats) string {
	parts := []string{fmt.Sprintf("%d tokens", s.EvalTokens)}
	if s.TokensPerSecond > 0 {
		parts = append(parts, fmt.Sprintf("%.1f tok/s", s.TokensPerSecond))
	}
	parts = append(parts, s.Elapsed.Round(10*time.Millisecond).String())
	if s.SkippedLines > 0 {
		parts = append(parts, fmt.Sprintf("%d lines skipped", s.SkippedLines))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// =============================================================================
// OUTPUT
// =============================================================================

func (r *REPL) printWelcome(ctx context.Context) {
	fmt.Fprintln(r.out, welcomeStyle.Render("ollachat"))

	if !r.env.Health.CheckOnce(ctx) {
		fmt.Fprintln(r.out, warningStyle.Render("Ollama is not reachable. Start it with: ollachat serve"))
	}
	name := r.sess.ModelName()
	if name == "" {
		name = "(none, use /models and /model NAME)"
	}
	fmt.Fprintln(r.out, infoStyle.Render("Model: "+name))
	fmt.Fprintln(r.out, infoStyle.Render("Conversation: "+storage.ShortID(r.sess.ID())+". Type /help for commands."))
	fmt.Fprintln(r.out)
}

func (r *REPL) printError(err error) {
	fmt.Fprintln(r.errOut, errorStyle.Render("[Error]")+" "+commands.DescribeError(err))
}

func (r *REPL) modelNames() []string {
	models := r.env.Registry.Models()
	names := make([]string, len(models))
	for i, d := range models {
		names[i] = d.String()
	}
	return names
}
