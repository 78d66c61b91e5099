// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"sort"
	"strings"
)

// =============================================================================
// COMPLETER
// =============================================================================

// Completer handles tab completion for commands and arguments.
type Completer struct {
	registry *Registry

	// Callbacks for dynamic completion, set by the shell
	ModelsFn   func() []string // Installed model names
	SessionsFn func() []string // Conversation IDs from history
}

// NewCompleter creates a new completer with the given registry.
func NewCompleter(registry *Registry) *Completer {
	return &Completer{registry: registry}
}

// Complete returns full-line completions for input. Plain prompts get none.
func (c *Completer) Complete(input string) []string {
	if !IsCommand(input) {
		return nil
	}
	input = strings.TrimLeft(input, " \t")

	parts := splitCommandLine(input)
	trailingSpace := strings.HasSuffix(input, " ")

	// Still typing the command name
	if len(parts) <= 1 && !trailingSpace {
		partial := ""
		if len(parts) == 1 {
			partial = parts[0]
		}
		return c.completeCommands(partial)
	}

	cmd := c.registry.Get(ExtractCommandName(input))
	if cmd == nil {
		return nil
	}

	argIndex := len(parts) - 2
	partial := ""
	if trailingSpace {
		argIndex++
	} else {
		partial = parts[len(parts)-1]
	}
	if argIndex < 0 || argIndex >= len(cmd.Args) {
		return nil
	}

	prefix := strings.Join(parts[:argIndex+1], " ") + " "
	values := c.argValues(cmd.Args[argIndex], partial)
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = prefix + v
	}
	return out
}

// completeCommands returns command names (not aliases) starting with partial.
func (c *Completer) completeCommands(partial string) []string {
	partial = strings.ToLower(partial)
	var names []string
	for _, cmd := range c.registry.All() {
		if strings.HasPrefix(cmd.Name, partial) {
			names = append(names, cmd.Name)
		}
	}
	return names
}

func (c *Completer) argValues(arg ArgDef, partial string) []string {
	var candidates []string
	switch arg.Type {
	case ArgTypeEnum:
		candidates = arg.Values
	case ArgTypeModel:
		if c.ModelsFn != nil {
			candidates = c.ModelsFn()
		}
	case ArgTypeSession:
		if c.SessionsFn != nil {
			candidates = c.SessionsFn()
		}
	}
	return filterPrefix(candidates, partial)
}

func filterPrefix(values []string, partial string) []string {
	lower := strings.ToLower(partial)
	var out []string
	for _, v := range values {
		if strings.HasPrefix(strings.ToLower(v), lower) {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
