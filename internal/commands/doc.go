// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands provides the slash command system for interactive chat.
//
// Commands are registered with a handler and an argument description. The
// registry parses a line, validates its arguments and dispatches it; the
// completer turns the same descriptions into tab completion.
//
// # Key Types
//
//   - Registry: holds commands by name and alias
//   - Command: name, aliases, argument definitions and handler
//   - Completer: tab completion for command names and arguments
//
// # Usage
//
//	reg := commands.NewRegistry()
//	reg.Register(&commands.Command{
//	    Name:    "/model",
//	    Args:    []commands.ArgDef{{Name: "id", Type: commands.ArgTypeModel}},
//	    Handler: func(ctx context.Context, inv commands.Invocation) error { ... },
//	})
//	handled, err := reg.Execute(ctx, "/model gpt-4")
//
//	comp := commands.NewCompleter(reg)
//	comp.ModelsFn = func() []string { ... }
//	line.SetCompleter(comp.Lines)
package commands
