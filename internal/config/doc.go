// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatsync.
//
// Supports both TOML and JSON configuration formats, with defaults,
// .env files, environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: main configuration structure
//   - AuthConfig, ChatConfig: service base URLs and the startup model
//   - TransportConfig: timeouts, retries and the client-side rate limit
//   - StorageConfig: persisted-session backend (memory, file, sqlite)
//   - LogConfig: logger level and format
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CHATSYNC_*)
//   - .env in the working directory (never overrides the real environment)
//   - ~/.chatsync/config.toml
//   - ~/.chatsync/config.json
//   - Built-in defaults
//
// CHATSYNC_HOME relocates the ~/.chatsync directory.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	api := transport.New(cfg.Chat.BaseURL, sess.Token, cfg.TransportOptions(), logger)
package config
