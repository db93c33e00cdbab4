// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders a conversation and its messages to a file.
//
// # Key Types
//
//   - Transcript: a conversation plus its messages in display order
//   - Exporter: renders a Transcript in one format
//   - MarkdownExporter: human-readable with YAML frontmatter
//   - JSONExporter: a versioned document that keeps every field
//
// # Usage
//
//	exp, err := export.ForFormat("md", export.DefaultOptions())
//	t := export.Transcript{Conversation: *conv, Messages: msgs}
//	path, err := export.WriteFile(dir, t, exp, time.Now())
package export
