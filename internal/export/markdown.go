// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/chatsync/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a transcript to Markdown.
func (e *MarkdownExporter) Export(t Transcript) ([]byte, error) {
	if len(t.Messages) == 0 {
		return nil, ErrEmptyTranscript
	}
	conv := t.Conversation
	exported := e.options.now()
	tokens, cost := totals(t.Messages)

	var sb strings.Builder
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(t.Title()))
		if conv.ID != "" {
			fmt.Fprintf(&sb, "id: %s\n", escapeYAML(conv.ID))
		}
		if models := modelsUsed(t); len(models) > 0 {
			fmt.Fprintf(&sb, "models: [%s]\n", strings.Join(models, ", "))
		}
		if !conv.CreatedAt.IsZero() {
			fmt.Fprintf(&sb, "date: %s\n", conv.CreatedAt.UTC().Format(time.RFC3339))
		}
		fmt.Fprintf(&sb, "messages: %d\n", len(t.Messages))
		if tokens > 0 {
			fmt.Fprintf(&sb, "tokens: %d\n", tokens)
		}
		fmt.Fprintf(&sb, "exported: %s\n", exported.UTC().Format(time.RFC3339))
		sb.WriteString("generator: chatsync\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(t.Title()))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		fmt.Fprintf(&sb, "- **Created**: %s\n", formatTimestamp(conv.CreatedAt))
		fmt.Fprintf(&sb, "- **Last Updated**: %s\n", formatTimestamp(conv.UpdatedAt))
		fmt.Fprintf(&sb, "- **Messages**: %d\n", len(t.Messages))
		if tokens > 0 {
			fmt.Fprintf(&sb, "- **Tokens Used**: %d\n", tokens)
		}
		if cost.IsPositive() {
			fmt.Fprintf(&sb, "- **Estimated Cost**: $%s\n", cost.StringFixed(4))
		}
		if len(conv.Tags) > 0 {
			fmt.Fprintf(&sb, "- **Tags**: %s\n", strings.Join(conv.Tags, ", "))
		}
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")
	for i, msg := range t.Messages {
		label := "[" + msg.Role.DisplayName() + "]"
		if ts := formatShortTimestamp(msg.Timestamp); e.options.IncludeTimestamps && ts != "" {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, ts)
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}
		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if msg.Role == model.RoleAssistant && e.options.IncludeMetadata {
			if stats := formatMessageStats(msg); stats != "" {
				sb.WriteString(stats)
				sb.WriteString("\n\n")
			}
		}
		if i < len(t.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	fmt.Fprintf(&sb, "*Exported from chatsync on %s*\n", exported.Format("January 2, 2006 at 3:04 PM"))
	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func formatMessageStats(msg model.Message) string {
	var parts []string
	if msg.ModelUsed != "" {
		parts = append(parts, "Model: "+msg.ModelUsed)
	}
	if msg.TokensUsed > 0 {
		parts = append(parts, fmt.Sprintf("Tokens: %d", msg.TokensUsed))
	}
	if msg.CostEstimate.IsPositive() {
		parts = append(parts, "Cost: $"+msg.CostEstimate.StringFixed(4))
	}
	if msg.ProcessingTime != nil && *msg.ProcessingTime > 0 {
		d := time.Duration(*msg.ProcessingTime * float64(time.Second))
		parts = append(parts, "Duration: "+d.Round(time.Millisecond).String())
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("<sub>Stats: %s</sub>", strings.Join(parts, " | "))
}

func totals(msgs []model.Message) (int, decimal.Decimal) {
	tokens, cost := 0, decimal.Zero
	for _, m := range msgs {
		tokens += m.TokensUsed
		cost = cost.Add(m.CostEstimate)
	}
	return tokens, cost
}

// modelsUsed prefers the conversation's list and falls back to the replies.
func modelsUsed(t Transcript) []string {
	if len(t.Conversation.ModelsUsed) > 0 {
		return t.Conversation.ModelsUsed
	}
	seen := make(map[string]bool)
	var models []string
	for _, m := range t.Messages {
		if m.ModelUsed != "" && !seen[m.ModelUsed] {
			seen[m.ModelUsed] = true
			models = append(models, m.ModelUsed)
		}
	}
	return models
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	return strings.NewReplacer("#", `\#`, "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`).Replace(s)
}

// escapeYAML quotes a scalar when it contains YAML syntax.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`).Replace(s)
		return `"` + s + `"`
	}
	return s
}
