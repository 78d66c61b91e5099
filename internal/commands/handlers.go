// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/ollachat/internal/session"
	"github.com/jeranaias/ollachat/internal/storage"
	"github.com/jeranaias/ollachat/internal/util"
)

// historyLimit is how many conversations /history shows.
const historyLimit = 20

func (r *Registry) handleHelp(ctx context.Context, env *Env, args []string) (Result, error) {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, cmd := range r.All() {
		usage := cmd.Usage
		if usage == "" {
			usage = cmd.Name
		}
		sb.WriteString("  " + util.PadRight(usage, 18) + " " + cmd.Description)
		if len(cmd.Aliases) > 0 {
			sb.WriteString(" (" + strings.Join(cmd.Aliases, ", ") + ")")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nAnything else is sent to the model.")
	return Result{Output: sb.String()}, nil
}

func handleQuit(ctx context.Context, env *Env, args []string) (Result, error) {
	return Result{Quit: true}, nil
}

func handleClear(ctx context.Context, env *Env, args []string) (Result, error) {
	if err := env.Session.Clear(); err != nil {
		return Result{}, err
	}
	return Result{Output: "Started a new conversation.", Reset: true}, nil
}

func handleModels(ctx context.Context, env *Env, args []string) (Result, error) {
	models, err := env.Registry.Reload(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(models) == 0 {
		return Result{Output: "No models installed. Pull one with: ollama pull <model>"}, nil
	}

	current, _ := env.Registry.Current()
	var sb strings.Builder
	for _, m := range models {
		marker := "  "
		if m == current {
			marker = "* "
		}
		sb.WriteString(marker + util.PadRight(m.String(), 36) + " " + FormatSize(m.Size) + "\n")
	}
	return Result{Output: strings.TrimRight(sb.String(), "\n")}, nil
}

func handleModel(ctx context.Context, env *Env, args []string) (Result, error) {
	if len(args) == 0 {
		name := env.Session.ModelName()
		if name == "" {
			return Result{Output: "No model selected. Use /models to list installed models."}, nil
		}
		return Result{Output: "Model: " + name}, nil
	}

	if !env.Registry.Loaded() {
		if _, err := env.Registry.Reload(ctx); err != nil {
			return Result{}, err
		}
	}
	if err := env.Session.SelectModel(args[0]); err != nil {
		return Result{}, err
	}
	return Result{Output: "Model: " + env.Session.ModelName()}, nil
}

func handleThink(ctx context.Context, env *Env, args []string) (Result, error) {
	if len(args) > 0 {
		env.Session.SetThink(strings.EqualFold(args[0], "on"))
	}
	if env.Session.ThinkEnabled() {
		return Result{Output: "Think: on (reasoning shown separately)"}, nil
	}
	return Result{Output: "Think: off (all text is answer text)"}, nil
}

func handleHistory(ctx context.Context, env *Env, args []string) (Result, error) {
	if env.History == nil {
		return Result{}, session.ErrHistoryDisabled
	}
	metas, err := env.History.List(ctx, historyLimit)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: strings.TrimRight(storage.FormatList(metas), "\n")}, nil
}

func handleResume(ctx context.Context, env *Env, args []string) (Result, error) {
	if err := env.Session.Resume(ctx, args[0]); err != nil {
		return Result{}, err
	}
	conv := env.Session.Conversation()
	return Result{
		Output: fmt.Sprintf("Resumed %s (%d turns).", storage.ShortID(conv.ID()), conv.Len()),
		Reset:  true,
	}, nil
}

func handleStatus(ctx context.Context, env *Env, args []string) (Result, error) {
	var sb strings.Builder

	online := env.Health.CheckOnce(ctx)
	state := env.Health.CurrentState()
	if online {
		sb.WriteString("Server:       online\n")
	} else {
		sb.WriteString("Server:       offline")
		if state.LastError != nil {
			sb.WriteString(" (" + state.LastError.Error() + ")")
		}
		sb.WriteString("\n")
	}

	model := env.Session.ModelName()
	if model == "" {
		model = "(none)"
	}
	sb.WriteString("Model:        " + model + "\n")

	think := "off"
	if env.Session.ThinkEnabled() {
		think = "on"
	}
	sb.WriteString("Think:        " + think + "\n")

	conv := env.Session.Conversation()
	sb.WriteString(fmt.Sprintf("Conversation: %s (%d turns)", storage.ShortID(conv.ID()), conv.Len()))
	if env.Session.Busy() {
		sb.WriteString(", generating")
	}
	sb.WriteString(fmt.Sprintf("\nSession:      started %s, idle %s",
		env.Session.StartTime().Format("15:04"), env.Session.IdleTime().Round(time.Second)))
	return Result{Output: sb.String()}, nil
}

// FormatSize renders a byte count with a binary unit suffix.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
