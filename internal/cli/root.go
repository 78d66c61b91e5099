// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli defines the ollachat command line.
//
// Running ollachat with no subcommand opens the full-screen chat. The
// subcommands cover the line shell, one-shot prompts, model selection,
// server status, the local server process, stored conversations and the
// configuration file.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const rootLongDesc = `ollachat is a streaming chat client for a local Ollama server.

Run without a command to open the full-screen chat. Replies stream in as
they are generated; text a model wraps in <think> tags is shown apart
from the answer when think mode is on.

Examples:
  ollachat                         Open the chat screen
  ollachat --model qwen3:4b        Chat with a specific model
  ollachat repl                    Line-mode chat for plain terminals
  ollachat ask "what is a monad"   One-shot prompt, reply on stdout
  ollachat models                  List installed models
  ollachat serve                   Run a local Ollama server`

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "ollachat",
		Short:         "Streaming chat client for a local Ollama server",
		Long:          rootLongDesc,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), g)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&g.configPath, "config", "", "Path to the config file (default ~/.ollachat/config.toml)")
	flags.BoolVar(&g.debug, "debug", false, "Log at debug level")
	flags.StringVar(&g.host, "host", "", "Ollama server host (overrides server.host)")
	flags.StringVarP(&g.model, "model", "m", "", "Model to chat with (overrides chat.default_model)")
	flags.BoolVar(&g.noHistory, "no-history", false, "Do not read or write conversation history")

	cmd.AddCommand(
		newReplCmd(g),
		newAskCmd(g),
		newModelsCmd(g),
		newStatusCmd(g),
		newServeCmd(g),
		newHistoryCmd(g),
		newConfigCmd(g),
	)
	return cmd
}

// Execute runs the command line and returns the process exit code.
// SIGTERM cancels the running command; SIGINT is left to each command.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	go func() {
		// A second SIGTERM kills the process if a shell does not wind down
		<-ctx.Done()
		stop()
	}()

	err := NewRootCmd().ExecuteContext(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return ExitSuccess
	}
	fmt.Fprintln(os.Stderr, errorStyle.Render("Error:")+" "+describe(err))
	return ExitCode(err)
}
