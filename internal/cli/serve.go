// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/ollachat/internal/ollama"
)

// =============================================================================
// SERVE
// =============================================================================

type serveCommander struct {
	global *globalOptions
}

func newServeCmd(g *globalOptions) *cobra.Command {
	cmder := &serveCommander{global: g}

	return &cobra.Command{
		Use:   "serve",
		Short: "Run a local Ollama server until interrupted",
		Long: `Start "ollama serve" and keep it running until Ctrl+C.

Nothing is started when a server already answers at the configured
address. The server runs in its own process group and is stopped with it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}
}

func (c *serveCommander) run(ctx context.Context, cmd *cobra.Command) error {
	a, err := newApp(c.global, appOptions{logWriter: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if a.monitor.CheckOnce(ctx) {
		fmt.Fprintln(out, infoStyle.Render("Ollama is already running at "+a.client.BaseURL()))
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	launcher := ollama.NewLauncher(a.client, a.logger.Named("launcher"))
	fmt.Fprintln(out, infoStyle.Render("Starting Ollama..."))
	if err := launcher.Start(ctx); err != nil {
		launcher.Stop()
		return err
	}
	fmt.Fprintln(out, successStyle.Render("Ollama is running at "+a.client.BaseURL()+". Press Ctrl+C to stop."))

	<-ctx.Done()
	fmt.Fprintln(out, infoStyle.Render("Stopping Ollama..."))
	if err := launcher.Stop(); err != nil {
		a.logger.Error("failed to stop ollama", zap.Error(err))
		return err
	}
	return nil
}
