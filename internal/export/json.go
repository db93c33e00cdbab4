// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/jeranaias/chatsync/internal/model"
)

// DocumentVersion is bumped when the JSON layout changes.
const DocumentVersion = 1

// Document is the JSON export layout.
type Document struct {
	Version      int                `json:"version"`
	ExportedAt   time.Time          `json:"exported_at"`
	Conversation model.Conversation `json:"conversation"`
	Messages     []model.Message    `json:"messages"`
}

// JSONExporter exports the complete transcript. Options other than Now do
// not filter the output.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export converts a transcript to an indented JSON document.
func (e *JSONExporter) Export(t Transcript) ([]byte, error) {
	if len(t.Messages) == 0 {
		return nil, ErrEmptyTranscript
	}
	return json.MarshalIndent(Document{
		Version:      DocumentVersion,
		ExportedAt:   e.options.now().UTC(),
		Conversation: t.Conversation,
		Messages:     t.Messages,
	}, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
