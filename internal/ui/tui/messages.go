// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/commands"
	"github.com/jeranaias/ollachat/internal/config"
	"github.com/jeranaias/ollachat/internal/health"
)

// =============================================================================
// MESSAGES
// =============================================================================

// HealthMsg carries a server reachability change into the program.
type HealthMsg struct {
	State health.State
}

// SettingsMsg carries a reloaded configuration into the program.
type SettingsMsg struct {
	Config config.Config
}

// streamEventMsg is one event of the generation numbered gen.
type streamEventMsg struct {
	gen   int
	event chat.Event
	ch    <-chan chat.Event
}

// streamClosedMsg is sent once the generation's event sequence has ended.
type streamClosedMsg struct {
	gen int
}

// commandResultMsg is the outcome of a slash command run off the UI goroutine.
type commandResultMsg struct {
	input  string
	result commands.Result
	err    error
}

// frameTickMsg drives redraws while a reply streams in.
type frameTickMsg struct{}

// =============================================================================
// COMMANDS
// =============================================================================

// pumpStream ranges over stream on its own goroutine, handing each event to
// the program through a channel. It stops ranging, which cancels the
// generation, once done is closed.
func pumpStream(stream *chat.Stream, done <-chan struct{}) <-chan chat.Event {
	ch := make(chan chat.Event, 64)
	go func() {
		defer close(ch)
		for ev := range stream.Events() {
			select {
			case ch <- ev:
			case <-done:
				return
			}
		}
	}()
	return ch
}

// waitForEvent returns the next event of generation gen.
func waitForEvent(gen int, ch <-chan chat.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{gen: gen}
		}
		return streamEventMsg{gen: gen, event: ev, ch: ch}
	}
}

func runCommand(ctx context.Context, reg *commands.Registry, env *commands.Env, input string) tea.Cmd {
	return func() tea.Msg {
		res, err := reg.Execute(ctx, env, input)
		return commandResultMsg{input: input, result: res, err: err}
	}
}

func checkHealth(ctx context.Context, monitor *health.Monitor) tea.Cmd {
	return func() tea.Msg {
		monitor.CheckOnce(ctx)
		return HealthMsg{State: monitor.CurrentState()}
	}
}

func frameTick() tea.Cmd {
	return tea.Tick(time.Second/defaultMaxFPS, func(time.Time) tea.Msg {
		return frameTickMsg{}
	})
}
