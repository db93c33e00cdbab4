// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry accounts for token usage and cost during a session.
//
// Only confirmed assistant messages are recorded; optimistic user messages
// carry no tokens or cost. Costs are decimal to avoid float drift when many
// small per-message estimates are summed.
//
// # Key Types
//
//   - UsageTracker: per-model totals and the most expensive replies
//   - ModelUsage: message count, tokens, cost and processing time for a model
//   - Reply: one recorded assistant message
//
// # Usage
//
//	tracker := telemetry.NewUsageTracker()
//	tracker.Record(assistantMsg)
//	total := tracker.Totals()
//	fmt.Printf("%d tokens, $%s\n", total.Tokens, total.Cost.StringFixed(4))
//
// # Privacy
//
// Usage tracking is local-only. Message content is never stored.
package telemetry
