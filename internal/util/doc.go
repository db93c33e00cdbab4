// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the chatsync packages.
//
// # Key Functions
//
// Text:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth: display-width truncation for terminal columns
//   - NormalizeTitle: NFC normalization and whitespace folding for titles
//
// Files:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	title := util.NormalizeTitle("  Café\nnotes ")
//	err := util.AtomicWriteFile(path, data, 0600, 0700)
package util
