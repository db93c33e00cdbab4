// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/chatsync/internal/model"
)

// topRepliesLimit bounds the most-expensive list.
const topRepliesLimit = 10

// unknownModel labels replies whose model_used was empty.
const unknownModel = "unknown"

// ModelUsage aggregates usage for one model.
type ModelUsage struct {
	Model          string          `json:"model"`
	Messages       int             `json:"messages"`
	Tokens         int             `json:"tokens"`
	Cost           decimal.Decimal `json:"cost"`
	ProcessingTime time.Duration   `json:"processing_time"`
}

// Reply is one recorded assistant message.
type Reply struct {
	MessageID      string          `json:"message_id"`
	ConversationID string          `json:"conversation_id"`
	Model          string          `json:"model"`
	Tokens         int             `json:"tokens"`
	Cost           decimal.Decimal `json:"cost"`
	Timestamp      time.Time       `json:"timestamp"`
}

// UsageTracker accumulates usage for the lifetime of a client.
type UsageTracker struct {
	mu      sync.RWMutex
	started time.Time
	models  map[string]*ModelUsage
	top     []Reply
	seen    map[string]struct{}
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{
		started: time.Now(),
		models:  make(map[string]*ModelUsage),
		seen:    make(map[string]struct{}),
	}
}

// Record adds an assistant message. Other roles and messages already
// recorded (same ID) are ignored.
func (t *UsageTracker) Record(msg model.Message) {
	if msg.Role != model.RoleAssistant {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ID != "" {
		if _, dup := t.seen[msg.ID]; dup {
			return
		}
		t.seen[msg.ID] = struct{}{}
	}

	name := msg.ModelUsed
	if name == "" {
		name = unknownModel
	}
	mu := t.models[name]
	if mu == nil {
		mu = &ModelUsage{Model: name}
		t.models[name] = mu
	}
	mu.Messages++
	mu.Tokens += msg.TokensUsed
	mu.Cost = mu.Cost.Add(msg.CostEstimate)
	if msg.ProcessingTime != nil {
		mu.ProcessingTime += time.Duration(*msg.ProcessingTime * float64(time.Second))
	}

	t.top = append(t.top, Reply{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Model:          name,
		Tokens:         msg.TokensUsed,
		Cost:           msg.CostEstimate,
		Timestamp:      msg.Timestamp.Time,
	})
	t.updateTopReplies()
}

// updateTopReplies keeps the most expensive replies, highest first.
func (t *UsageTracker) updateTopReplies() {
	sort.SliceStable(t.top, func(i, j int) bool {
		return t.top[i].Cost.GreaterThan(t.top[j].Cost)
	})
	if len(t.top) > topRepliesLimit {
		t.top = t.top[:topRepliesLimit]
	}
}

// ByModel returns per-model usage ordered by cost, then name.
func (t *UsageTracker) ByModel() []ModelUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ModelUsage, 0, len(t.models))
	for _, mu := range t.models {
		out = append(out, *mu)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Cost.Cmp(out[j].Cost); c != 0 {
			return c > 0
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// Totals returns usage summed over every model. Model is empty.
func (t *UsageTracker) Totals() ModelUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total ModelUsage
	for _, mu := range t.models {
		total.Messages += mu.Messages
		total.Tokens += mu.Tokens
		total.Cost = total.Cost.Add(mu.Cost)
		total.ProcessingTime += mu.ProcessingTime
	}
	return total
}

// TopReplies returns the most expensive replies, highest cost first.
func (t *UsageTracker) TopReplies() []Reply {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Reply(nil), t.top...)
}

// Since returns when tracking started.
func (t *UsageTracker) Since() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.started
}

// Reset discards everything recorded so far.
func (t *UsageTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = time.Now()
	t.models = make(map[string]*ModelUsage)
	t.seen = make(map[string]struct{})
	t.top = nil
}
