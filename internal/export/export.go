// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/chatsync/internal/model"
	"github.com/jeranaias/chatsync/internal/util"
)

// ErrEmptyTranscript is returned when there is nothing to export.
var ErrEmptyTranscript = errors.New("conversation has no messages")

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Transcript is the unit of export.
type Transcript struct {
	Conversation model.Conversation
	Messages     []model.Message
}

// Title returns the conversation title, or the default one.
func (t Transcript) Title() string {
	if t.Conversation.Title == "" {
		return model.DefaultConversationTitle
	}
	return t.Conversation.Title
}

// Exporter renders a transcript in one format.
type Exporter interface {
	Export(t Transcript) ([]byte, error)

	// FileExtension returns the extension including the dot.
	FileExtension() string

	MimeType() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// IncludeMetadata adds the frontmatter, session block and per-reply stats.
	IncludeMetadata bool

	// IncludeTimestamps adds per-message timestamps.
	IncludeTimestamps bool

	// Now stamps the export. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{IncludeMetadata: true, IncludeTimestamps: true}
}

func (o *Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Formats lists the accepted format names.
var Formats = []string{"markdown", "md", "json"}

// ForFormat returns the exporter for a format name.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(format) {
	case "markdown", "md":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// WriteFile renders t with exporter and writes it into dir under a generated
// name. The file is written atomically with 0600 permissions. It returns the
// path written.
func WriteFile(dir string, t Transcript, exporter Exporter, now time.Time) (string, error) {
	content, err := exporter.Export(t)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}
	path := filepath.Join(dir, Filename(t, exporter.FileExtension(), now))
	if err := util.AtomicWriteFile(path, content, 0600, 0700); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

// Filename returns "conversation_<title>_<stamp><ext>".
func Filename(t Transcript, ext string, now time.Time) string {
	return fmt.Sprintf("conversation_%s_%s%s", sanitizeFilename(t.Title()), now.Format("20060102_150405"), ext)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

const maxFilenameRunes = 50

// sanitizeFilename replaces characters that are invalid in file names on
// Windows or Unix.
func sanitizeFilename(s string) string {
	s = util.TruncateRunes(s, maxFilenameRunes)
	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		case r < 32 || r == 127:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "conversation"
	}
	return b.String()
}

func formatTimestamp(t model.Timestamp) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format("January 2, 2006 at 15:04 UTC")
}

func formatShortTimestamp(t model.Timestamp) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("15:04:05")
}
