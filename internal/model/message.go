// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// LocalIDPrefix marks message ids generated on the client for optimistic
// messages; server-assigned ids never carry it.
const LocalIDPrefix = "local-"

// Message is one turn in a conversation.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           Role            `json:"role"`
	Content        string          `json:"content"`
	ModelUsed      string          `json:"model_used,omitempty"`
	TokensUsed     int             `json:"tokens_used"`
	CostEstimate   decimal.Decimal `json:"cost_estimate"`
	Timestamp      Timestamp       `json:"timestamp"`
	ProcessingTime *float64        `json:"processing_time,omitempty"` // seconds

	// SendError is set on an optimistic user message whose /chat call
	// failed. Local only.
	SendError string `json:"-"`
}

// IsLocal reports whether the message id was generated on the client.
func (m Message) IsLocal() bool {
	return len(m.ID) >= len(LocalIDPrefix) && m.ID[:len(LocalIDPrefix)] == LocalIDPrefix
}

// Failed reports whether the message is an optimistic user message whose
// send failed.
func (m Message) Failed() bool {
	return m.SendError != ""
}

// NewLocalUserMessage synthesizes the optimistic user message appended
// before a /chat call. It carries zero tokens and zero cost.
func NewLocalUserMessage(conversationID, content string) Message {
	return Message{
		ID:             LocalIDPrefix + uuid.NewString(),
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        content,
		CostEstimate:   decimal.Zero,
		Timestamp:      Now(),
	}
}

// =============================================================================
// CHAT EXCHANGE
// =============================================================================

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message        string   `json:"message"`
	Model          string   `json:"model,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      *int     `json:"max_tokens,omitempty"`
	Stream         bool     `json:"stream,omitempty"`
	SystemPrompt   string   `json:"system_prompt,omitempty"`
}

// ChatResponse is the body returned by POST /chat.
type ChatResponse struct {
	Message        string          `json:"message"`
	MessageID      string          `json:"message_id,omitempty"`
	ModelUsed      string          `json:"model_used"`
	TokensUsed     int             `json:"tokens_used"`
	CostEstimate   decimal.Decimal `json:"cost_estimate"`
	ConversationID string          `json:"conversation_id"`
	Timestamp      Timestamp       `json:"timestamp"`
	ProcessingTime *float64        `json:"processing_time,omitempty"`
}

// AssistantMessageFromResponse builds the confirmed assistant message from a
// /chat response. The server's message id is used when present.
func AssistantMessageFromResponse(resp ChatResponse) Message {
	id := resp.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	ts := resp.Timestamp
	if ts.IsZero() {
		ts = Now()
	}
	var pt *float64
	if resp.ProcessingTime != nil {
		v := *resp.ProcessingTime
		pt = &v
	}
	return Message{
		ID:             id,
		ConversationID: resp.ConversationID,
		Role:           RoleAssistant,
		Content:        resp.Message,
		ModelUsed:      resp.ModelUsed,
		TokensUsed:     resp.TokensUsed,
		CostEstimate:   resp.CostEstimate,
		Timestamp:      ts,
		ProcessingTime: pt,
	}
}
