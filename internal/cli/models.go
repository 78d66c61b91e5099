// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ollachat/internal/commands"
	"github.com/jeranaias/ollachat/internal/registry"
	"github.com/jeranaias/ollachat/internal/util"
)

// =============================================================================
// MODELS
// =============================================================================

type modelsCommander struct {
	global  *globalOptions
	sel     string
	jsonOut bool
}

// modelJSON is one entry of `models --json`.
type modelJSON struct {
	Name    string `json:"name"`
	Tag     string `json:"tag"`
	Size    int64  `json:"size"`
	Default bool   `json:"default"`
}

func newModelsCmd(g *globalOptions) *cobra.Command {
	cmder := &modelsCommander{global: g}

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List installed models",
		Long: `List the models installed on the server. The default model is marked
with an asterisk.

With --select the named model becomes chat.default_model in the config
file. A bare name such as "llama3" is accepted when only one tag of it is
installed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}
	cmd.Flags().StringVarP(&cmder.sel, "select", "s", "", "Make NAME the default model")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Output as JSON")
	return cmd
}

func (c *modelsCommander) run(ctx context.Context, cmd *cobra.Command) error {
	a, err := newApp(c.global, appOptions{logWriter: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close()

	models, err := a.registry.Reload(ctx)
	if err != nil {
		if c.jsonOut {
			return writeJSON(cmd.OutOrStdout(), "models", nil, err)
		}
		return err
	}

	if c.sel != "" {
		if err := a.registry.Select(c.sel); err != nil {
			return err
		}
		current, _ := a.registry.Current()
		if err := updateConfigFile(a.settings.Path(), "chat.default_model", current.String()); err != nil {
			return err
		}
		if !c.jsonOut {
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Default model: "+current.String()))
			return nil
		}
	} else {
		a.registry.SelectDefault(a.settings.Snapshot().Chat.DefaultModel)
	}

	current, _ := a.registry.Current()
	if c.jsonOut {
		out := make([]modelJSON, len(models))
		for i, m := range models {
			out[i] = modelJSON{Name: m.Name, Tag: m.Tag, Size: m.Size, Default: m == current}
		}
		return writeJSON(cmd.OutOrStdout(), "models", out, nil)
	}

	fmt.Fprint(cmd.OutOrStdout(), formatModels(models, current))
	return nil
}

func formatModels(models []registry.ModelDescriptor, current registry.ModelDescriptor) string {
	if len(models) == 0 {
		return "No models installed. Pull one with: ollama pull <model>\n"
	}
	var sb strings.Builder
	for _, m := range models {
		marker := "  "
		if m == current {
			marker = "* "
		}
		sb.WriteString(marker + util.PadRight(m.String(), 40) + " " + commands.FormatSize(m.Size) + "\n")
	}
	return sb.String()
}
