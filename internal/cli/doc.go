// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the chatsync command tree.
//
// The commands are a thin scripting driver over internal/client: each one
// builds the client from configuration, runs one or more operations and
// renders the resulting state. Presentation beyond plain terminal output is
// out of scope.
//
// # Key Types
//
//   - App: per-invocation state shared by commands (config, client, streams)
//   - Prompter: reads lines and passwords; swapped out in tests
//   - JSONResponse: the --json output envelope
//
// # Usage
//
//	os.Exit(cli.Execute())
//
// # Commands Overview
//
//   - login, register, logout, whoami, refresh: session lifecycle
//   - chat: one-shot message or interactive REPL
//   - conversations: list, show, new, rename, delete
//   - models: list, select
//   - config: show, get, set, keys, path
//   - version
//
// All commands support --json.
package cli
