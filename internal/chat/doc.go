// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat keeps the local view of conversations and messages in sync
// with the chat service.
//
// # Key Types
//
//   - Cache: the conversation list, the current conversation and its
//     ordered messages, with send/load/create/update/delete operations
//
// # Optimistic Sends
//
// Send appends the user's message before the /chat call returns. The message
// is never rolled back: when the call fails it stays in place with SendError
// set so Retry can re-send it without retyping.
//
// # Fencing
//
// The cache keeps a view epoch. Every operation that replaces the current
// view (LoadConversation, CreateConversation, ClearMessages, deleting the
// current conversation) increments it when issued and again when it commits,
// and a response issued under an older epoch is dropped with ErrStale. Two
// racing LoadConversation calls therefore leave the view of the one issued
// last, never a mixture. UpdateConversation is fenced per conversation id the
// same way.
//
// A Send reply joins the view only while its optimistic message is still
// there and the view shows the conversation it was sent to. A reload of that
// conversation keeps pending optimistic messages; any other view change
// detaches them.
//
// # Usage
//
//	cache := chat.New(chatAPI, usage, logger)
//	err := cache.Send(ctx, model.ChatRequest{Message: "hello", Model: "openai"})
//	for _, m := range cache.Messages() {
//	    fmt.Println(m.Role, m.Content)
//	}
//
// Every operation returns its error and also records a user-facing message
// readable through Err.
package chat
