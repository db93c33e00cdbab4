// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
)

// DefaultConversationTitle is used when a conversation is created without one.
const DefaultConversationTitle = "New Conversation"

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is a named, ordered chat thread. The id is assigned by the
// backend.
type Conversation struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	CreatedAt     Timestamp `json:"created_at"`
	UpdatedAt     Timestamp `json:"updated_at"`
	LastMessageAt Timestamp `json:"last_message_at"`
	MessageCount  int       `json:"message_count"`
	TotalTokens   int       `json:"total_tokens"`
	ModelsUsed    []string  `json:"models_used"`
	Tags          []string  `json:"tags"`
	Category      string    `json:"category,omitempty"`
	IsFavorite    bool      `json:"is_favorite"`
	IsArchived    bool      `json:"is_archived"`
}

// Clone returns a deep copy of c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.ModelsUsed = append([]string(nil), c.ModelsUsed...)
	out.Tags = append([]string(nil), c.Tags...)
	return &out
}

// MergeJSON overlays the fields present in raw onto a copy of c and returns
// it. Fields absent from raw keep their current value, so a partial server
// document updates only what it carries.
func (c Conversation) MergeJSON(raw json.RawMessage) (Conversation, error) {
	merged := *c.Clone()
	if err := json.Unmarshal(raw, &merged); err != nil {
		return c, fmt.Errorf("failed to merge conversation: %w", err)
	}
	// The id never changes through a merge.
	merged.ID = c.ID
	return merged, nil
}

// =============================================================================
// PARTIAL UPDATES
// =============================================================================

// ConversationPatch is the body of PUT /conversations/{id}. Only non-nil
// fields are sent.
type ConversationPatch struct {
	Title      *string   `json:"title,omitempty"`
	Tags       *[]string `json:"tags,omitempty"`
	Category   *string   `json:"category,omitempty"`
	IsFavorite *bool     `json:"is_favorite,omitempty"`
	IsArchived *bool     `json:"is_archived,omitempty"`
}

// IsEmpty reports whether the patch carries no field.
func (p ConversationPatch) IsEmpty() bool {
	return p.Title == nil && p.Tags == nil && p.Category == nil &&
		p.IsFavorite == nil && p.IsArchived == nil
}

// CreateConversationRequest is the body of POST /conversations.
type CreateConversationRequest struct {
	Title string `json:"title"`
}
