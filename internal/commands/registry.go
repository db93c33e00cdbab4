// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrQuit is returned by a handler to end the session.
var ErrQuit = errors.New("quit")

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// Invocation is one parsed command line.
type Invocation struct {
	// Args are the tokens after the command name, quotes removed.
	Args []string

	// Raw is everything after the command name, trimmed.
	Raw string
}

// Handler executes a command.
type Handler func(ctx context.Context, inv Invocation) error

// Command represents a slash command that can be executed.
type Command struct {
	// Name is the primary command name (e.g., "/help")
	Name string

	// Aliases are alternative names (e.g., "/h")
	Aliases []string

	// Description is shown in help and completion
	Description string

	// Usage shows argument syntax (e.g., "/model [id]")
	Usage string

	Args []ArgDef

	Handler Handler

	// Hidden commands don't appear in help or completion
	Hidden bool
}

// ArgDef defines an argument for a command.
type ArgDef struct {
	Name string

	Required bool

	// Type determines completion behavior
	Type ArgType

	// Values for enum types
	Values []string
}

// ArgType indicates what kind of completion to provide.
type ArgType int

const (
	ArgTypeString       ArgType = iota // Free-form string
	ArgTypeModel                       // Model id from the registry
	ArgTypeConversation                // Conversation id from the list
	ArgTypeEnum                        // One of Values
)

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry holds commands by name and alias. Names are matched without
// regard to case. It is not safe for concurrent registration.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
	}
}

// Register adds a command, replacing any command with the same name.
func (r *Registry) Register(cmd *Command) {
	r.commands[strings.ToLower(cmd.Name)] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[strings.ToLower(alias)] = cmd
	}
}

// Get retrieves a command by name or alias.
func (r *Registry) Get(name string) *Command {
	name = strings.ToLower(name)
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	return r.aliases[name]
}

// All returns every command sorted by name.
func (r *Registry) All() []*Command {
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Visible returns the commands shown in help, sorted by name.
func (r *Registry) Visible() []*Command {
	var cmds []*Command
	for _, cmd := range r.All() {
		if !cmd.Hidden {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

// Execute parses input and runs the matching command. It reports false when
// input is not a command at all.
func (r *Registry) Execute(ctx context.Context, input string) (bool, error) {
	res := r.Parse(input)
	if !res.IsCommand {
		return false, nil
	}
	if res.Command == nil {
		return true, &UnknownCommandError{Name: res.CommandName}
	}
	if err := ValidateArgs(res.Command, res.Args); err != nil {
		return true, err
	}
	if res.Command.Handler == nil {
		return true, nil
	}
	return true, res.Command.Handler(ctx, Invocation{Args: res.Args, Raw: res.RawArgs})
}

// UnknownCommandError is returned for a line naming no registered command.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return "unknown command " + e.Name + " (try /help)"
}
