// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport is the JSON-over-HTTP client shared by the auth, chat
// and model-registry components.
//
// A Client is bound to one service base URL. It never stores a credential:
// the bearer token is read from a TokenSource on every attempt, or passed
// explicitly with WithToken, so a refresh or logout that happens while a
// request is in flight is observed by the next attempt.
//
// # Key Types
//
//   - Client: verb-based calls (Get, Post, Put, Delete) with timeouts,
//     client-side rate limiting and bounded retry for GET
//   - Response: status code and body, with envelope-tolerant Decode
//   - APIError: typed failure carrying status, code and message
//
// # Usage
//
//	c := transport.New("http://localhost:8002", auth.Token, transport.DefaultConfig(), logger)
//	resp, err := c.Get(ctx, "/conversations")
//	if err != nil {
//	    if errors.Is(err, transport.ErrUnauthorized) {
//	        // token rejected
//	    }
//	    return err
//	}
//	var convs []model.Conversation
//	err = resp.Decode(&convs)
//
// # Security
//
// Tokens, headers and bodies are never logged; log lines carry a short
// SHA-256 fingerprint of the token instead.
package transport
