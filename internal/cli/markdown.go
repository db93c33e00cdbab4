// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	markdownRenderer     *glamour.TermRenderer
	markdownRendererOnce sync.Once
)

func getMarkdownRenderer() *glamour.TermRenderer {
	markdownRendererOnce.Do(func() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(min(GetTerminalWidth()-4, 100)),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	return markdownRenderer
}

// renderMarkdown returns content rendered for the terminal, or content
// unchanged when rendering is unavailable or fails.
func renderMarkdown(content string) string {
	r := getMarkdownRenderer()
	if r == nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(rendered, "\n")
}

// renderReply renders a reply as markdown only when it goes to an
// interactive, colored stdout, so piped output stays plain.
func renderReply(w io.Writer, content string) string {
	if w == os.Stdout && IsStdoutTTY() && ColorsEnabled() {
		return renderMarkdown(content)
	}
	return content
}
