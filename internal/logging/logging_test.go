// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatsync/internal/config"
)

func TestNew_LevelAndFormat(t *testing.T) {
	logger, closer, err := New(config.LogConfig{Level: "DEBUG", Format: "json"})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	For(logger, "chat").Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "chat", line["component"])
	assert.Equal(t, "hello", line["msg"])
}

func TestNew_Rejects(t *testing.T) {
	_, _, err := New(config.LogConfig{Level: "loud", Format: "text"})
	assert.Error(t, err)
	_, _, err = New(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chatsync.log")
	logger, closer, err := New(config.LogConfig{Level: "info", Format: "text", File: path})
	require.NoError(t, err)

	logger.Warn("written")
	logger.Debug("filtered")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written")
	assert.NotContains(t, string(data), "filtered")
}

func TestFor_NilLogger(t *testing.T) {
	entry := For(nil, "x")
	require.NotNil(t, entry)
	entry.Info("dropped")
}
