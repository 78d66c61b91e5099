// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// =============================================================================
// STATUS
// =============================================================================

type statusCommander struct {
	global  *globalOptions
	jsonOut bool
}

// statusReport is what `status` prints.
type statusReport struct {
	Server        string `json:"server"`
	Online        bool   `json:"online"`
	Error         string `json:"error,omitempty"`
	Models        int    `json:"models"`
	DefaultModel  string `json:"default_model"`
	ThinkEnabled  bool   `json:"think_enabled"`
	ConfigPath    string `json:"config_path"`
	HistoryPath   string `json:"history_path,omitempty"`
	Conversations int    `json:"conversations"`
}

func newStatusCmd(g *globalOptions) *cobra.Command {
	cmder := &statusCommander{global: g}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server, model and history status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Output as JSON")
	return cmd
}

func (c *statusCommander) run(ctx context.Context, cmd *cobra.Command) error {
	a, err := newApp(c.global, appOptions{withHistory: true, logWriter: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.settings.Snapshot()
	report := statusReport{
		Server:       cfg.BaseURL(),
		ThinkEnabled: cfg.Chat.ThinkEnabled,
		ConfigPath:   a.settings.Path(),
		DefaultModel: cfg.Chat.DefaultModel,
	}

	if err := a.selectDefaultModel(ctx); err != nil {
		if state := a.monitor.CurrentState(); state.LastError != nil {
			report.Error = state.LastError.Error()
		} else {
			report.Error = err.Error()
		}
	}
	report.Online = a.monitor.CurrentState().IsOnline
	report.Models = len(a.registry.Models())
	if current, ok := a.registry.Current(); ok {
		report.DefaultModel = current.String()
	}

	if a.history != nil {
		report.HistoryPath = a.history.Path()
		metas, err := a.history.List(ctx, 0)
		if err != nil {
			return err
		}
		report.Conversations = len(metas)
	}

	if c.jsonOut {
		return writeJSON(cmd.OutOrStdout(), "status", report, nil)
	}
	printStatus(cmd.OutOrStdout(), report)
	return nil
}

func printStatus(w io.Writer, r statusReport) {
	fmt.Fprintln(w, headerStyle.Render("ollachat status"))

	server := successStyle.Render("online")
	if !r.Online {
		server = warningStyle.Render("offline")
	}
	fmt.Fprintf(w, "  Server:        %s (%s)\n", r.Server, server)
	if r.Error != "" {
		fmt.Fprintf(w, "  Problem:       %s\n", r.Error)
	}
	if r.Online {
		fmt.Fprintf(w, "  Models:        %d installed\n", r.Models)
	}

	model := r.DefaultModel
	if model == "" {
		model = "(none)"
	}
	fmt.Fprintf(w, "  Model:         %s\n", model)
	think := "off"
	if r.ThinkEnabled {
		think = "on"
	}
	fmt.Fprintf(w, "  Think:         %s\n", think)
	fmt.Fprintf(w, "  Config:        %s\n", r.ConfigPath)
	if r.HistoryPath != "" {
		fmt.Fprintf(w, "  History:       %s (%d conversations)\n", r.HistoryPath, r.Conversations)
	} else {
		fmt.Fprintln(w, "  History:       disabled")
	}
}
