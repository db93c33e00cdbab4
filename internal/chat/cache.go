// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/chatsync/internal/model"
	"github.com/jeranaias/chatsync/internal/telemetry"
	"github.com/jeranaias/chatsync/internal/transport"
)

// Error variables for cache operations.
var (
	// ErrStale is returned when a response arrived after a newer operation
	// replaced the view it was meant for. The response was discarded.
	ErrStale = errors.New("stale response discarded")

	// ErrEmptyMessage is returned by Send for blank text.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoFailedMessage is returned by Retry for an id that is not a
	// failed optimistic message.
	ErrNoFailedMessage = errors.New("no failed message with that id")

	// ErrEmptyPatch is returned by UpdateConversation for a patch with no fields.
	ErrEmptyPatch = errors.New("nothing to update")
)

// User-facing messages recorded in the error field.
const (
	msgSendFailed              = "Failed to send message. Please try again."
	msgLoadConversationsFailed = "Failed to load conversations"
	msgLoadConversationFailed  = "Failed to load conversation"
	msgCreateFailed            = "Failed to create conversation"
	msgDeleteFailed            = "Failed to delete conversation"
	msgUpdateFailed            = "Failed to update conversation"
)

// =============================================================================
// CACHE
// =============================================================================

// Cache owns the conversation list, the current conversation and its
// messages. All methods are safe for concurrent use; accessors return copies.
type Cache struct {
	api   *transport.Client
	usage *telemetry.UsageTracker
	log   *logrus.Entry

	mu            sync.Mutex
	conversations []model.Conversation
	current       *model.Conversation
	messages      []model.Message
	err           string
	loading       int

	// epoch is the view epoch; see the package documentation.
	epoch uint64
	// listSeq orders LoadConversations calls.
	listSeq uint64
	// updateSeq fences UpdateConversation per conversation id.
	updateSeq map[string]uint64
	// failed holds the request of each optimistic message whose send failed.
	failed map[string]model.ChatRequest
	// pending holds optimistic messages whose /chat call is in flight.
	pending map[string]model.Message
}

// New creates an empty cache. usage may be nil.
func New(api *transport.Client, usage *telemetry.UsageTracker, logger *logrus.Logger) *Cache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Cache{
		api:       api,
		usage:     usage,
		log:       logger.WithField("component", "chat"),
		updateSeq: make(map[string]uint64),
		failed:    make(map[string]model.ChatRequest),
		pending:   make(map[string]model.Message),
	}
}

// ClearMessages detaches the current conversation and empties the message
// sequence. It makes no network call.
func (c *Cache) ClearMessages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetViewLocked()
}

// resetViewLocked empties the view and invalidates responses issued for it.
func (c *Cache) resetViewLocked() {
	c.replaceViewLocked(nil, nil)
}

// replaceViewLocked commits a new view. Pending sends addressed to conv keep
// their optimistic message at the end of the sequence; the others are
// detached.
func (c *Cache) replaceViewLocked(conv *model.Conversation, msgs []model.Message) {
	c.epoch++
	c.current = conv
	c.messages = msgs
	c.failed = make(map[string]model.ChatRequest)
	if conv == nil {
		return
	}
	for _, m := range c.pending {
		if m.ConversationID == conv.ID {
			c.messages = append(c.messages, m)
		}
	}
	sort.SliceStable(c.messages, func(i, j int) bool {
		return c.messages[i].Timestamp.Before(c.messages[j].Timestamp.Time)
	})
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Messages returns a copy of the current message sequence.
func (c *Cache) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.messages...)
}

// Current returns a copy of the current conversation, or nil.
func (c *Cache) Current() *model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone()
}

// Conversations returns a copy of the cached conversation list.
func (c *Cache) Conversations() []model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Conversation, len(c.conversations))
	for i := range c.conversations {
		out[i] = *c.conversations[i].Clone()
	}
	return out
}

// Loading reports whether any cache request is in flight.
func (c *Cache) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading > 0
}

// Err returns the last user-facing error message, or "".
func (c *Cache) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SetError records msg as the user-facing error.
func (c *Cache) SetError(msg string) {
	c.mu.Lock()
	c.err = msg
	c.mu.Unlock()
}

// ClearError resets the error field.
func (c *Cache) ClearError() {
	c.SetError("")
}

// =============================================================================
// HELPERS
// =============================================================================

// failLocked records a user-facing error and logs the cause.
func (c *Cache) failLocked(msg string, err error, fields logrus.Fields) {
	c.err = msg
	c.log.WithFields(fields).WithError(err).Warn(msg)
}

func (c *Cache) indexOfMessageLocked(id string) int {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Cache) indexOfConversationLocked(id string) int {
	for i := range c.conversations {
		if c.conversations[i].ID == id {
			return i
		}
	}
	return -1
}
