// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands provides the slash command system shared by the shells.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/jeranaias/ollachat/internal/health"
	"github.com/jeranaias/ollachat/internal/registry"
	"github.com/jeranaias/ollachat/internal/session"
	"github.com/jeranaias/ollachat/internal/storage"
)

// ErrUnknownCommand is returned for a slash command that is not registered.
var ErrUnknownCommand = errors.New("unknown command")

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// Env is what a command handler operates on.
type Env struct {
	Session  *session.Session
	Registry *registry.Registry
	Health   *health.Monitor

	// History is nil when persistence is disabled
	History *storage.HistoryStore
}

// Result tells the shell what a command did.
type Result struct {
	// Output is shown to the user as-is
	Output string

	// Quit asks the shell to exit
	Quit bool

	// Reset means the current conversation was replaced and the
	// transcript must be redrawn
	Reset bool
}

// Handler executes a command.
type Handler func(ctx context.Context, env *Env, args []string) (Result, error)

// Command represents a slash command that can be executed.
type Command struct {
	// Name is the primary command name (e.g., "/help")
	Name string

	// Aliases are alternative names (e.g., "/h", "/?")
	Aliases []string

	// Description is shown in help and completion
	Description string

	// Usage shows argument syntax (e.g., "/model <name>")
	Usage string

	// Args defines the expected arguments
	Args []ArgDef

	Handler Handler
}

// ArgDef defines an argument for a command.
type ArgDef struct {
	Name        string
	Required    bool
	Type        ArgType
	Description string

	// Values for enum types
	Values []string
}

// ArgType indicates what kind of completion to provide.
type ArgType int

const (
	ArgTypeString  ArgType = iota // Free-form string
	ArgTypeModel                  // Installed model name
	ArgTypeSession                // Conversation ID from history
	ArgTypeEnum                   // One of predefined values
)

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command
}

// NewRegistry creates a new command registry with all built-in commands.
func NewRegistry() *Registry {
	r := &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
	}
	r.registerBuiltins()
	return r
}

// Register adds a command to the registry.
func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[alias] = cmd
	}
}

// Get retrieves a command by name or alias.
func (r *Registry) Get(name string) *Command {
	name = strings.ToLower(name)
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	if cmd, ok := r.aliases[name]; ok {
		return cmd
	}
	return nil
}

// All returns all registered commands sorted by name.
func (r *Registry) All() []*Command {
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Execute parses input and runs the command it names.
func (r *Registry) Execute(ctx context.Context, env *Env, input string) (Result, error) {
	parsed := Parse(r, input)
	if !parsed.IsCommand {
		return Result{}, fmt.Errorf("%q is not a command", input)
	}
	if parsed.Command == nil {
		return Result{}, r.unknown(parsed.CommandName)
	}
	if err := ValidateArgs(parsed.Command, parsed.Args); err != nil {
		return Result{}, err
	}
	return parsed.Command.Handler(ctx, env, parsed.Args)
}

func (r *Registry) unknown(name string) error {
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	sort.Strings(names)

	matches := fuzzy.Find(name, names)
	if len(matches) == 0 {
		return fmt.Errorf("%w: %s (try /help)", ErrUnknownCommand, name)
	}
	return fmt.Errorf("%w: %s (did you mean %s?)", ErrUnknownCommand, name, matches[0].Str)
}

// =============================================================================
// BUILT-IN COMMANDS
// =============================================================================

func (r *Registry) registerBuiltins() {
	r.Register(&Command{
		Name:        "/help",
		Aliases:     []string{"/h", "/?"},
		Description: "Show available commands",
		Handler:     r.handleHelp,
	})

	r.Register(&Command{
		Name:        "/quit",
		Aliases:     []string{"/q", "/exit"},
		Description: "Exit ollachat",
		Handler:     handleQuit,
	})

	r.Register(&Command{
		Name:        "/clear",
		Aliases:     []string{"/new", "/n"},
		Description: "Start a new conversation",
		Handler:     handleClear,
	})

	r.Register(&Command{
		Name:        "/models",
		Aliases:     []string{"/ls"},
		Description: "Reload and list installed models",
		Handler:     handleModels,
	})

	r.Register(&Command{
		Name:        "/model",
		Aliases:     []string{"/m"},
		Description: "Show or switch the current model",
		Usage:       "/model [name]",
		Args: []ArgDef{
			{Name: "name", Type: ArgTypeModel, Description: "model name, with or without tag"},
		},
		Handler: handleModel,
	})

	r.Register(&Command{
		Name:        "/think",
		Description: "Show or toggle separating reasoning from answers",
		Usage:       "/think [on|off]",
		Args: []ArgDef{
			{Name: "state", Type: ArgTypeEnum, Values: []string{"on", "off"}, Description: "on or off"},
		},
		Handler: handleThink,
	})

	r.Register(&Command{
		Name:        "/history",
		Aliases:     []string{"/sessions"},
		Description: "List recent conversations",
		Handler:     handleHistory,
	})

	r.Register(&Command{
		Name:        "/resume",
		Aliases:     []string{"/load"},
		Description: "Continue a conversation from history",
		Usage:       "/resume <id>",
		Args: []ArgDef{
			{Name: "id", Required: true, Type: ArgTypeSession, Description: "conversation ID or unique prefix"},
		},
		Handler: handleResume,
	})

	r.Register(&Command{
		Name:        "/status",
		Description: "Show server, model and conversation status",
		Handler:     handleStatus,
	})
}
