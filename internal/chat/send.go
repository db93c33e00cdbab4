// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/chatsync/internal/model"
)

// Send appends an optimistic user message, posts req to /chat and appends
// the assistant's reply. When no conversation is current, the conversation
// the service assigned becomes current and its metadata is fetched.
//
// A failed call leaves the user message in place with SendError set; it is
// never retried automatically.
func (c *Cache) Send(ctx context.Context, req model.ChatRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if req.ConversationID == "" && c.current != nil {
		req.ConversationID = c.current.ID
	}
	userMsg := model.NewLocalUserMessage(req.ConversationID, req.Message)
	c.messages = append(c.messages, userMsg)
	c.pending[userMsg.ID] = userMsg
	c.err = ""
	c.loading++
	c.mu.Unlock()

	return c.exchange(ctx, req, userMsg.ID)
}

// Retry re-sends a failed optimistic message without appending a copy.
func (c *Cache) Retry(ctx context.Context, messageID string) error {
	c.mu.Lock()
	req, ok := c.failed[messageID]
	idx := c.indexOfMessageLocked(messageID)
	if !ok || idx < 0 {
		delete(c.failed, messageID)
		c.mu.Unlock()
		return ErrNoFailedMessage
	}
	delete(c.failed, messageID)
	c.messages[idx].SendError = ""
	if req.ConversationID == "" && c.current != nil {
		req.ConversationID = c.current.ID
		c.messages[idx].ConversationID = req.ConversationID
	}
	c.pending[messageID] = c.messages[idx]
	c.err = ""
	c.loading++
	c.mu.Unlock()

	return c.exchange(ctx, req, messageID)
}

// exchange performs the /chat call for the optimistic message userID and
// reconciles the result. The caller has already counted the request as
// loading and registered userID as pending.
//
// The reply joins the view only while userID is still in it and the view
// shows the conversation the request was for. Any view change in between
// detaches it.
func (c *Cache) exchange(ctx context.Context, req model.ChatRequest, userID string) error {
	var resp model.ChatResponse
	r, err := c.api.Post(ctx, "/chat", req)
	if err == nil {
		err = r.Decode(&resp)
	}

	c.mu.Lock()
	c.loading--
	delete(c.pending, userID)

	if err != nil {
		if i := c.indexOfMessageLocked(userID); i >= 0 {
			c.messages[i].SendError = msgSendFailed
			c.failed[userID] = req
		}
		c.failLocked(msgSendFailed, err, logrus.Fields{"conversation_id": req.ConversationID})
		c.mu.Unlock()
		return fmt.Errorf("send: %w", err)
	}

	reply := model.AssistantMessageFromResponse(resp)
	if reply.ConversationID == "" {
		reply.ConversationID = req.ConversationID
	}
	if c.usage != nil {
		c.usage.Record(reply)
	}

	if !c.attachedLocked(userID, req.ConversationID, reply.ConversationID) {
		// The reply is stored server-side and shows up when that
		// conversation is loaded again.
		c.log.WithField("conversation_id", reply.ConversationID).Debug("reply arrived for a detached view")
		c.mu.Unlock()
		return nil
	}

	c.messages = append(c.messages, reply)
	if i := c.indexOfMessageLocked(userID); c.messages[i].ConversationID == "" {
		c.messages[i].ConversationID = reply.ConversationID
	}

	adopt := ""
	epoch := c.epoch
	if c.current == nil && reply.ConversationID != "" {
		c.current = &model.Conversation{ID: reply.ConversationID, Title: model.DefaultConversationTitle}
		adopt = reply.ConversationID
	}
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"conversation_id": reply.ConversationID,
		"model":           reply.ModelUsed,
		"tokens":          reply.TokensUsed,
	}).Debug("message sent")

	if adopt != "" {
		c.adoptConversation(ctx, adopt, epoch)
	}
	return nil
}

// attachedLocked reports whether the view still belongs to the exchange of
// the optimistic message userID.
func (c *Cache) attachedLocked(userID, requested, replied string) bool {
	if c.indexOfMessageLocked(userID) < 0 {
		return false
	}
	if c.current == nil {
		return requested == ""
	}
	return c.current.ID == requested || c.current.ID == replied
}

// adoptConversation fetches the metadata of a conversation the service
// created during Send. Failure is logged only: the exchange itself succeeded
// and the placeholder stays current.
func (c *Cache) adoptConversation(ctx context.Context, id string, epoch uint64) {
	var conv model.Conversation
	r, err := c.api.Get(ctx, "/conversations/"+url.PathEscape(id))
	if err == nil {
		err = r.Decode(&conv)
	}
	if err != nil {
		c.log.WithField("conversation_id", id).WithError(err).Warn("failed to load new conversation metadata")
		return
	}
	conv.ID = id

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.current == nil || c.current.ID != id {
		return
	}
	c.current = conv.Clone()
	if i := c.indexOfConversationLocked(id); i >= 0 {
		c.conversations[i] = *conv.Clone()
	} else {
		c.conversations = append([]model.Conversation{*conv.Clone()}, c.conversations...)
	}
}
