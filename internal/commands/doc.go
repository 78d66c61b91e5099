// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands provides the slash command system shared by the TUI and
// the line REPL.
//
// Input starting with "/" is a command; anything else is a prompt for the
// model. Handlers are shell-agnostic: they act on an Env and return a Result
// the shell renders.
//
// # Built-in Commands
//
//   - /help: Show available commands
//   - /models: Reload and list installed models
//   - /model NAME: Switch models
//   - /think on|off: Toggle reasoning separation
//   - /clear: Start a new conversation
//   - /history, /resume ID: Browse and continue past conversations
//   - /status: Server, model and conversation status
//   - /quit: Exit
//
// # Usage
//
//	reg := commands.NewRegistry()
//	if commands.IsCommand(line) {
//	    res, err := reg.Execute(ctx, env, line)
//	}
//
// Get completions:
//
//	completer.Complete("/mo")
//	// Returns ["/model", "/models"]
package commands
