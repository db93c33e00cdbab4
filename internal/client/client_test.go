// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatsync/internal/auth"
	"github.com/jeranaias/chatsync/internal/config"
	"github.com/jeranaias/chatsync/internal/model"
	"github.com/jeranaias/chatsync/internal/storage"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func authServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"T1","token_type":"bearer","user":{"id":"u1","email":"a@b.com","name":"Ada"}}`))
	})
	mux.HandleFunc("GET /me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer T1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"u1","email":"a@b.com","name":"Ada"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func chatServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	requireToken := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer T1" {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		return true
	}
	mux.HandleFunc("POST /chat", func(w http.ResponseWriter, r *http.Request) {
		if !requireToken(w, r) {
			return
		}
		var req model.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		w.Write([]byte(`{"message":"echo: ` + req.Message + `","model_used":"` + req.Model + `","tokens_used":12,"cost_estimate":0.0012,"conversation_id":"c1","timestamp":"2024-05-01T10:00:00"}`))
	})
	mux.HandleFunc("GET /conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !requireToken(w, r) {
			return
		}
		w.Write([]byte(`{"success":true,"data":{"id":"c1","title":"Echo","model":"gpt-4","message_count":2}}`))
	})
	mux.HandleFunc("GET /models", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"models":[{"provider":"openai","model":"gpt-4","name":"GPT-4","status":"online"}]}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.BaseURL = authServer(t).URL
	cfg.Chat.BaseURL = chatServer(t).URL
	cfg.Transport.MaxRetries = 0
	cfg.Storage.Backend = backend
	cfg.Storage.Watch = false
	if backend != storage.BackendMemory {
		cfg.Storage.Path = filepath.Join(t.TempDir(), "session."+backend)
	}
	return cfg
}

func TestClient_EndToEnd(t *testing.T) {
	ctx := context.Background()
	c, err := New(testConfig(t, storage.BackendMemory), quietLogger())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, auth.StateAnonymous, c.Auth.State())
	assert.Empty(t, c.StorePath())

	require.NoError(t, c.Auth.Login(ctx, "a@b.com", "pw"))
	require.NoError(t, c.Models.LoadModels(ctx))
	assert.Equal(t, "gpt-4", c.Models.Selected())
	require.Len(t, c.Models.Online(), 1)

	require.NoError(t, c.Chat.Send(ctx, model.ChatRequest{Message: "hello", Model: c.Models.Selected()}))
	msgs := c.Chat.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "echo: hello", msgs[1].Content)

	require.Eventually(t, func() bool {
		cur := c.Chat.Current()
		return cur != nil && cur.Title == "Echo"
	}, 2*time.Second, 10*time.Millisecond)

	totals := c.Usage.Totals()
	assert.Equal(t, 12, totals.Tokens)
}

func TestClient_ChatUsesCurrentToken(t *testing.T) {
	ctx := context.Background()
	c, err := New(testConfig(t, storage.BackendMemory), quietLogger())
	require.NoError(t, err)
	defer c.Close()

	// Anonymous: the chat service rejects the call.
	assert.Error(t, c.Chat.Send(ctx, model.ChatRequest{Message: "hi"}))

	require.NoError(t, c.Auth.Login(ctx, "a@b.com", "pw"))
	require.NoError(t, c.Chat.Send(ctx, model.ChatRequest{Message: "again"}))
}

func TestClient_RehydrateFromFile(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, storage.BackendFile)

	first, err := New(cfg, quietLogger())
	require.NoError(t, err)
	require.NoError(t, first.Auth.Login(ctx, "a@b.com", "pw"))
	require.NoError(t, first.Close())

	second, err := New(cfg, quietLogger())
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Start(ctx))
	assert.True(t, second.Auth.IsAuthenticated())
	assert.Equal(t, "T1", second.Auth.Token())
}

func TestClient_WatcherPicksUpLogout(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, storage.BackendFile)

	writer, err := New(cfg, quietLogger())
	require.NoError(t, err)
	defer writer.Close()
	require.NoError(t, writer.Auth.Login(ctx, "a@b.com", "pw"))

	watching := cfg.Clone()
	watching.Storage.Watch = true
	reader, err := New(watching, quietLogger())
	require.NoError(t, err)
	defer reader.Close()
	require.NoError(t, reader.Start(ctx))
	require.True(t, reader.Auth.IsAuthenticated())

	writer.Auth.Logout(ctx)

	require.Eventually(t, func() bool {
		return reader.Auth.State() == auth.StateAnonymous
	}, 3*time.Second, 20*time.Millisecond)
}

func TestOpenStore(t *testing.T) {
	cfg := testConfig(t, storage.BackendSQLite)
	store, path, err := OpenStore(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Storage.Path, path)
	closer, ok := store.(io.Closer)
	require.True(t, ok)
	require.NoError(t, closer.Close())

	cfg = testConfig(t, storage.BackendFile)
	cfg.Storage.Encrypt = true
	_, _, err = OpenStore(cfg)
	assert.Error(t, err, "encryption without a passphrase")

	cfg.Storage.Passphrase = "hunter2"
	store, _, err = OpenStore(cfg)
	require.NoError(t, err)
	fs, ok := store.(*storage.FileStore)
	require.True(t, ok)
	assert.True(t, fs.Encrypted())

	cfg.Storage.Backend = "redis"
	_, _, err = OpenStore(cfg)
	assert.Error(t, err)
}
