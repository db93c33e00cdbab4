// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the authenticated session across restarts.
//
// Exactly three things are stored: the credential token, the cached user
// profile and the authenticated flag. Transient flags such as in-flight
// indicators never reach a Store.
//
// # Key Types
//
//   - Store: Load/Save/Clear capability injected into the auth session
//   - MemoryStore: process-local store, used in tests and for --ephemeral
//   - FileStore: JSON file written atomically, optionally age-encrypted
//   - SQLiteStore: single-row table managed by embedded migrations
//   - Watcher: reports changes made to a store file by another process
//
// # Usage
//
//	store, err := storage.NewFileStore(path, storage.FileOptions{})
//	sess, err := store.Load(ctx)
//	if errors.Is(err, storage.ErrNotFound) {
//	    // nothing persisted yet
//	}
//
// # Storage Location
//
// The default location is ~/.chatsync/session.json (or session.db for the
// sqlite backend).
package storage
