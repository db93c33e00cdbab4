// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points ConfigDir at a temp dir and clears every override.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(DirEnv, dir)
	for _, k := range []string{
		"CHATSYNC_AUTH_URL", "CHATSYNC_CHAT_URL", "CHATSYNC_MODEL", "CHATSYNC_TIMEOUT",
		"CHATSYNC_STORAGE", "CHATSYNC_STORAGE_PATH", "CHATSYNC_STORAGE_PASSPHRASE",
		"CHATSYNC_LOG_LEVEL", "CHATSYNC_LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_DefaultsWithoutFiles(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_TOMLKeepsUnsetDefaults(t *testing.T) {
	dir := isolate(t)
	content := `
[auth]
base_url = "https://auth.example.com"

[transport]
timeout = "5s"
max_retries = 0

[storage]
backend = "sqlite"
watch = false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com", cfg.Auth.BaseURL)
	assert.Equal(t, Default().Chat.BaseURL, cfg.Chat.BaseURL)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.False(t, cfg.Storage.Watch)

	opts := cfg.TransportOptions()
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.Equal(t, 0, opts.MaxRetries)

	info, err := os.Stat(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "permissions tightened on load")
}

func TestLoad_JSONFallback(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"),
		[]byte(`{"chat":{"default_model":"claude-3"}}`), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "claude-3", cfg.Chat.DefaultModel)
}

func TestLoad_BrokenFileFallsBackToDefaults(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[auth\n"), 0600))

	cfg, err := Load()
	require.Error(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, Default().Auth.BaseURL, cfg.Auth.BaseURL)
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"),
		[]byte("[storage]\nbackend = \"redis\"\n"), 0600))

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "storage.backend", verrs[0].Field)
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("CHATSYNC_CHAT_URL", "https://chat.example.com")
	t.Setenv("CHATSYNC_MODEL", "claude-3")
	t.Setenv("CHATSYNC_STORAGE_PASSPHRASE", "hunter2")
	t.Setenv("CHATSYNC_LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.Chat.BaseURL)
	assert.Equal(t, "claude-3", cfg.Chat.DefaultModel)
	assert.True(t, cfg.Storage.Encrypt)
	assert.Equal(t, "hunter2", cfg.Storage.Passphrase)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	isolate(t)
	t.Setenv("CHATSYNC_MODEL", "from-env")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CHATSYNC_MODEL=from-file\nCHATSYNC_TEST_DOTENV=loaded\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("CHATSYNC_TEST_DOTENV") })

	loadDotEnv(path)
	assert.Equal(t, "from-env", os.Getenv("CHATSYNC_MODEL"))
	assert.Equal(t, "loaded", os.Getenv("CHATSYNC_TEST_DOTENV"))

	loadDotEnv(filepath.Join(t.TempDir(), "missing.env"))
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Auth.BaseURL = "ftp://auth"
	cfg.Chat.BaseURL = "http://"
	cfg.Transport.Timeout = "soon"
	cfg.Transport.MaxRetries = -1
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.Encrypt = true
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))

	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{
		"auth.base_url", "chat.base_url", "transport.timeout", "transport.max_retries",
		"storage.encrypt", "log.level", "log.format",
	}, fields)
}

func TestSaveTOML_RoundTripWithoutPassphrase(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Chat.DefaultModel = "claude-3"
	cfg.Storage.Passphrase = "hunter2"
	require.NoError(t, SaveTOML(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# chatsync configuration file"))
	assert.NotContains(t, string(data), "hunter2")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "claude-3", loaded.Chat.DefaultModel)
	assert.Empty(t, loaded.Storage.Passphrase)
}

func TestSaveJSON_LoadFromPath(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Log.Level = "debug"
	require.NoError(t, SaveJSON(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", loaded.Log.Level)
}

func TestSessionPath(t *testing.T) {
	dir := isolate(t)
	cfg := Default()

	p, err := cfg.SessionPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "session.json"), p)

	cfg.Storage.Encrypt = true
	p, _ = cfg.SessionPath()
	assert.Equal(t, filepath.Join(dir, "session.age"), p)

	cfg.Storage.Backend = "sqlite"
	p, _ = cfg.SessionPath()
	assert.Equal(t, filepath.Join(dir, "session.db"), p)

	cfg.Storage.Path = "/tmp/explicit.db"
	p, _ = cfg.SessionPath()
	assert.Equal(t, "/tmp/explicit.db", p)
}

func TestGetSet_DotNotation(t *testing.T) {
	cfg := Default()

	v, err := cfg.Get("chat.base_url")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8002", v)

	require.NoError(t, cfg.Set("transport.max_retries", "4"))
	require.NoError(t, cfg.Set("transport.rate_limit", "2.5"))
	require.NoError(t, cfg.Set("storage.watch", "false"))
	require.NoError(t, cfg.Set("log.level", "debug"))
	assert.Equal(t, 4, cfg.Transport.MaxRetries)
	assert.Equal(t, 2.5, cfg.Transport.RateLimit)
	assert.False(t, cfg.Storage.Watch)
	assert.Equal(t, "debug", cfg.Log.Level)

	assert.Error(t, cfg.Set("transport.max_retries", "many"))
	assert.Error(t, cfg.Set("storage.watch", "maybe"))
	_, err = cfg.Get("chat.nope")
	assert.Error(t, err)
	_, err = cfg.Get("chat")
	assert.Error(t, err, "sections are not values")
	_, err = cfg.Get("")
	assert.Error(t, err)
}

func TestKeys_AllResolvable(t *testing.T) {
	cfg := Default()
	keys := Keys()
	assert.Contains(t, keys, "storage.backend")
	assert.Contains(t, keys, "transport.retry_base_delay")
	for _, k := range keys {
		_, err := cfg.Get(k)
		assert.NoError(t, err, k)
	}
}

func TestString_RedactsPassphrase(t *testing.T) {
	cfg := Default()
	cfg.Storage.Passphrase = "hunter2"
	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "hunter2", cfg.Storage.Passphrase, "original untouched")
}

// TestConfig_ConcurrentAccess checks Global and SetGlobal under the race detector.
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := Default()
			c.Chat.DefaultModel = "test-model"
			SetGlobal(c)
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestConfig_ConcurrentReload(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)
	_ = Global()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ReloadGlobal()
		}()
	}
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}
