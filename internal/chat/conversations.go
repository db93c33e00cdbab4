// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/chatsync/internal/model"
	"github.com/jeranaias/chatsync/internal/transport"
	"github.com/jeranaias/chatsync/internal/util"
)

// LoadConversations replaces the cached list with the service's collection.
// When calls overlap, only the one issued last is committed.
func (c *Cache) LoadConversations(ctx context.Context) error {
	c.mu.Lock()
	c.listSeq++
	seq := c.listSeq
	c.loading++
	c.mu.Unlock()

	var list []model.Conversation
	r, err := c.api.Get(ctx, "/conversations")
	if err == nil {
		list, err = transport.DecodeList[model.Conversation](r, "conversations")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading--
	if seq != c.listSeq {
		return ErrStale
	}
	if err != nil {
		c.failLocked(msgLoadConversationsFailed, err, nil)
		return fmt.Errorf("load conversations: %w", err)
	}
	c.conversations = list
	return nil
}

// LoadConversation fetches a conversation's metadata and messages
// concurrently and commits both only when both succeed. A newer view
// operation issued meanwhile makes the result stale.
func (c *Cache) LoadConversation(ctx context.Context, id string) error {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.loading++
	c.mu.Unlock()

	var (
		conv model.Conversation
		msgs []model.Message
	)
	path := "/conversations/" + url.PathEscape(id)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := c.api.Get(gctx, path)
		if err != nil {
			return err
		}
		return r.Decode(&conv)
	})
	g.Go(func() error {
		r, err := c.api.Get(gctx, path+"/messages")
		if err != nil {
			return err
		}
		msgs, err = transport.DecodeList[model.Message](r, "messages")
		return err
	})
	err := g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading--
	if c.epoch != epoch {
		c.log.WithField("conversation_id", id).Debug("discarding superseded conversation load")
		return ErrStale
	}
	if err != nil {
		c.failLocked(msgLoadConversationFailed, err, logrus.Fields{"conversation_id": id})
		return fmt.Errorf("load conversation %s: %w", id, err)
	}

	if conv.ID == "" {
		conv.ID = id
	}
	c.replaceViewLocked(&conv, msgs)
	if i := c.indexOfConversationLocked(conv.ID); i >= 0 {
		c.conversations[i] = *conv.Clone()
	}
	return nil
}

// CreateConversation creates a conversation, prepends it to the list and
// makes it current with no messages. An empty title becomes
// model.DefaultConversationTitle.
func (c *Cache) CreateConversation(ctx context.Context, title string) (model.Conversation, error) {
	title = util.NormalizeTitle(title)
	if title == "" {
		title = model.DefaultConversationTitle
	}

	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.loading++
	c.mu.Unlock()

	var conv model.Conversation
	r, err := c.api.Post(ctx, "/conversations", model.CreateConversationRequest{Title: title})
	if err == nil {
		err = r.Decode(&conv)
	}
	if err == nil && conv.ID == "" {
		err = fmt.Errorf("service returned a conversation without an id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading--
	if err != nil {
		if c.epoch == epoch {
			c.failLocked(msgCreateFailed, err, nil)
		}
		return model.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	// The conversation exists server-side whatever happened locally.
	c.conversations = append([]model.Conversation{*conv.Clone()}, c.conversations...)
	if c.epoch != epoch {
		return conv, ErrStale
	}
	c.replaceViewLocked(conv.Clone(), []model.Message{})
	return conv, nil
}

// DeleteConversation deletes a conversation and removes it from the list.
// Deleting the current conversation also clears the view.
func (c *Cache) DeleteConversation(ctx context.Context, id string) error {
	c.mu.Lock()
	c.loading++
	c.mu.Unlock()

	_, err := c.api.Delete(ctx, "/conversations/"+url.PathEscape(id))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading--
	if err != nil {
		c.failLocked(msgDeleteFailed, err, logrus.Fields{"conversation_id": id})
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}

	if i := c.indexOfConversationLocked(id); i >= 0 {
		c.conversations = append(c.conversations[:i:i], c.conversations[i+1:]...)
	}
	if c.current != nil && c.current.ID == id {
		c.resetViewLocked()
	}
	delete(c.updateSeq, id)
	return nil
}

// UpdateConversation sends patch and merges the fields the service returns
// into both the list entry and the current conversation. When updates to the
// same id overlap, only the one issued last is merged.
func (c *Cache) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) error {
	if patch.IsEmpty() {
		return ErrEmptyPatch
	}
	if patch.Title != nil {
		t := util.NormalizeTitle(*patch.Title)
		patch.Title = &t
	}

	c.mu.Lock()
	c.updateSeq[id]++
	seq := c.updateSeq[id]
	c.loading++
	c.mu.Unlock()

	r, err := c.api.Put(ctx, "/conversations/"+url.PathEscape(id), patch)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading--
	if c.updateSeq[id] != seq {
		return ErrStale
	}
	if err != nil {
		c.failLocked(msgUpdateFailed, err, logrus.Fields{"conversation_id": id})
		return fmt.Errorf("update conversation %s: %w", id, err)
	}

	raw := r.Payload()
	if len(raw) == 0 {
		// No body: the patch itself is what changed.
		if raw, err = json.Marshal(patch); err != nil {
			c.failLocked(msgUpdateFailed, err, logrus.Fields{"conversation_id": id})
			return fmt.Errorf("update conversation %s: %w", id, err)
		}
	}
	if i := c.indexOfConversationLocked(id); i >= 0 {
		merged, err := c.conversations[i].MergeJSON(raw)
		if err != nil {
			c.failLocked(msgUpdateFailed, err, logrus.Fields{"conversation_id": id})
			return fmt.Errorf("update conversation %s: %w", id, err)
		}
		c.conversations[i] = merged
	}
	if c.current != nil && c.current.ID == id {
		merged, err := c.current.MergeJSON(raw)
		if err != nil {
			c.failLocked(msgUpdateFailed, err, logrus.Fields{"conversation_id": id})
			return fmt.Errorf("update conversation %s: %w", id, err)
		}
		c.current = &merged
	}
	return nil
}
