// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the session, chat and
// model-registry components.
//
// The types mirror the JSON documents exchanged with the auth and chat
// services. They are plain values: components hand out copies, never
// pointers into their own state.
//
// # Key Types
//
//   - User, Tier: the authenticated account and its subscription tier
//   - Credential: the bearer token of the current session
//   - PersistedSession: the only state that survives a restart
//   - Conversation, ConversationPatch: chat threads and partial updates
//   - Message, Role: a single turn in a conversation
//   - ChatRequest, ChatResponse: the /chat exchange
//   - ModelDescriptor, ModelStatus: a provider's offered model
//   - Timestamp: time.Time that also accepts zone-less ISO-8601 strings
//
// # Usage
//
//	msg := model.NewLocalUserMessage(convID, "Hello!")
//	reply := model.AssistantMessageFromResponse(resp)
package model
