// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/ollachat/internal/config"
	"github.com/jeranaias/ollachat/internal/health"
	"github.com/jeranaias/ollachat/internal/ui/repl"
	"github.com/jeranaias/ollachat/internal/ui/tui"
)

// =============================================================================
// BACKGROUND WORK
// =============================================================================

// runWithBackground runs shell alongside the health monitor loop and the
// config file watcher. Everything stops when shell returns.
func (a *app) runWithBackground(ctx context.Context, shell func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := a.settings.Snapshot()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(a.monitor.Run(gctx, cfg.Server.HealthInterval.Duration))
	})
	g.Go(func() error {
		err := config.Watch(gctx, a.settings, config.DefaultDebounce, a.logger.Named("config"))
		if err != nil && !errors.Is(err, context.Canceled) {
			// A config that cannot be watched is not worth ending the chat over
			a.logger.Warn("config hot reload disabled", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return shell(gctx)
	})
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// =============================================================================
// FULL-SCREEN CHAT
// =============================================================================

func runTUI(ctx context.Context, g *globalOptions) error {
	a, err := newApp(g, appOptions{logFile: true, withHistory: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.selectDefaultModel(ctx); err != nil {
		a.logger.Warn("no model selected at startup", zap.Error(err))
	}
	a.reloadWhenOnline(ctx)

	return a.runWithBackground(ctx, func(ctx context.Context) error {
		m := tui.New(tui.Options{
			Context:    ctx,
			Session:    a.session,
			Commands:   a.commands,
			Env:        a.env,
			AutoScroll: a.settings.Snapshot().UI.AutoScroll,
		})
		p := tea.NewProgram(m,
			tea.WithAltScreen(),
			tea.WithMouseCellMotion(),
		)

		a.monitor.OnChange(func(s health.State) { p.Send(tui.HealthMsg{State: s}) })
		a.settings.Subscribe(func(c config.Config) { p.Send(tui.SettingsMsg{Config: c}) })

		go func() {
			<-ctx.Done()
			p.Quit()
		}()

		_, err := p.Run()
		return err
	})
}

// =============================================================================
// LINE SHELL
// =============================================================================

type replCommander struct {
	global *globalOptions
	quiet  bool
}

func newReplCmd(g *globalOptions) *cobra.Command {
	cmder := &replCommander{global: g}

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Chat in line mode",
		Long: `Chat in line mode, for plain terminals and piped input.

Slash commands work as in the chat screen (/help lists them). Ctrl+C stops
a reply that is streaming; Ctrl+D or /quit exits. When stdin is not a
terminal each line is sent as a prompt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Hide the banner and reply statistics")
	return cmd
}

func (c *replCommander) run(ctx context.Context, cmd *cobra.Command) error {
	a, err := newApp(c.global, appOptions{withHistory: true, logWriter: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.selectDefaultModel(ctx); err != nil {
		a.logger.Debug("no model selected at startup", zap.Error(err))
	}
	a.reloadWhenOnline(ctx)

	historyFile := ""
	if dir, err := config.ConfigDir(); err == nil {
		historyFile = filepath.Join(dir, "repl_history")
	}

	return a.runWithBackground(ctx, func(ctx context.Context) error {
		return repl.New(repl.Options{
			Session:     a.session,
			Commands:    a.commands,
			Env:         a.env,
			In:          cmd.InOrStdin(),
			Out:         cmd.OutOrStdout(),
			Err:         cmd.ErrOrStderr(),
			HistoryFile: historyFile,
			Quiet:       c.quiet,
			Logger:      a.logger.Named("repl"),
		}).Run(ctx)
	})
}
