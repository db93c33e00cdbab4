// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/chatsync/internal/transport"
	"github.com/jeranaias/chatsync/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatsync configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Auth      AuthConfig      `toml:"auth" json:"auth"`
	Chat      ChatConfig      `toml:"chat" json:"chat"`
	Transport TransportConfig `toml:"transport" json:"transport"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
	Log       LogConfig       `toml:"log" json:"log"`
}

// AuthConfig points at the authentication service.
type AuthConfig struct {
	BaseURL string `toml:"base_url" json:"base_url"`
}

// ChatConfig points at the chat service.
type ChatConfig struct {
	BaseURL string `toml:"base_url" json:"base_url"`

	// DefaultModel is the model selected at startup.
	DefaultModel string `toml:"default_model" json:"default_model"`
}

// TransportConfig tunes the HTTP client shared by both services.
type TransportConfig struct {
	// Timeout is a Go duration string ("30s").
	Timeout        string  `toml:"timeout" json:"timeout"`
	MaxRetries     int     `toml:"max_retries" json:"max_retries"`
	RetryBaseDelay string  `toml:"retry_base_delay" json:"retry_base_delay"`
	RateLimit      float64 `toml:"rate_limit" json:"rate_limit"`
	RateBurst      int     `toml:"rate_burst" json:"rate_burst"`
	UserAgent      string  `toml:"user_agent" json:"user_agent"`
}

// StorageConfig selects where the persisted session lives.
type StorageConfig struct {
	// Backend is one of memory, file, sqlite.
	Backend string `toml:"backend" json:"backend"`

	// Path of the session file or database. Empty means the default under ConfigDir.
	Path string `toml:"path" json:"path"`

	// Encrypt enables age passphrase encryption (file backend only).
	Encrypt bool `toml:"encrypt" json:"encrypt"`

	// Passphrase is normally supplied through CHATSYNC_STORAGE_PASSPHRASE.
	Passphrase string `toml:"passphrase,omitempty" json:"passphrase,omitempty"`

	// Watch reacts to other processes logging in or out.
	Watch bool `toml:"watch" json:"watch"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	// File, if set, receives log output instead of stderr.
	File string `toml:"file" json:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = "1"

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Auth: AuthConfig{
			BaseURL: "http://localhost:8001",
		},
		Chat: ChatConfig{
			BaseURL:      "http://localhost:8002",
			DefaultModel: "gpt-4",
		},
		Transport: TransportConfig{
			Timeout:        transport.DefaultTimeout.String(),
			MaxRetries:     transport.DefaultMaxRetries,
			RetryBaseDelay: transport.DefaultRetryBaseDelay.String(),
			RateLimit:      10,
			RateBurst:      20,
			UserAgent:      transport.DefaultUserAgent,
		},
		Storage: StorageConfig{
			Backend: "file",
			Watch:   true,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// DirEnv overrides the configuration directory.
const DirEnv = "CHATSYNC_HOME"

// ConfigDir returns the chatsync configuration directory path.
func ConfigDir() (string, error) {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatsync"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// SessionPath returns the storage path for the configured backend,
// defaulting to a file under ConfigDir.
func (c *Config) SessionPath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	switch c.Storage.Backend {
	case "sqlite":
		return filepath.Join(dir, "session.db"), nil
	case "file":
		if c.Storage.Encrypt {
			return filepath.Join(dir, "session.age"), nil
		}
		return filepath.Join(dir, "session.json"), nil
	}
	return "", nil
}

// ensureSecurePermissions tightens a config file to 0600. It may hold a passphrase.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config directory.
// Tries TOML first, then JSON, then falls back to defaults. A .env file in
// the working directory is read without overriding the real environment,
// and CHATSYNC_* overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error

	loaded := false
	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
				cfg = Default()
			} else {
				loaded = true
			}
		}
	}

	if !loaded {
		if jsonPath, err := ConfigPathJSON(); err == nil {
			if _, statErr := os.Stat(jsonPath); statErr == nil {
				if err := LoadJSON(cfg, jsonPath); err != nil {
					loadErr = fmt.Errorf("failed to load JSON config: %w", err)
					cfg = Default()
				}
			}
		}
	}

	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// LoadTOML loads configuration from a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}
	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish runs the shared tail of every load path.
func finish(cfg *Config) error {
	loadDotEnv(".env")
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// loadDotEnv reads KEY=VALUE pairs into the process environment. Variables
// already set win; a missing file is not an error.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read %s: %v\n", path, err)
	}
}

// SetDefaults fills zero values with built-in defaults.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Auth.BaseURL == "" {
		c.Auth.BaseURL = d.Auth.BaseURL
	}
	if c.Chat.BaseURL == "" {
		c.Chat.BaseURL = d.Chat.BaseURL
	}
	if c.Chat.DefaultModel == "" {
		c.Chat.DefaultModel = d.Chat.DefaultModel
	}

	if c.Transport.Timeout == "" {
		c.Transport.Timeout = d.Transport.Timeout
	}
	if c.Transport.RetryBaseDelay == "" {
		c.Transport.RetryBaseDelay = d.Transport.RetryBaseDelay
	}
	if c.Transport.RateBurst == 0 && c.Transport.RateLimit > 0 {
		c.Transport.RateBurst = d.Transport.RateBurst
	}
	if c.Transport.UserAgent == "" {
		c.Transport.UserAgent = d.Transport.UserAgent
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML with 0600 permissions. The passphrase is never written.
func SaveTOML(cfg *Config, path string) error {
	out := cfg.Clone()
	out.Storage.Passphrase = ""

	var b strings.Builder
	b.WriteString("# chatsync configuration file\n")
	b.WriteString("# Generated by chatsync - edit with care\n\n")
	if err := toml.NewEncoder(&b).Encode(out); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg as indented JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	out := cfg.Clone()
	out.Storage.Passphrase = ""

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration. The returned error, when non-nil,
// is a ValidateErrors listing every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	for field, raw := range map[string]string{"auth.base_url": c.Auth.BaseURL, "chat.base_url": c.Chat.BaseURL} {
		if msg := checkURL(raw); msg != "" {
			add(field, "%s", msg)
		}
	}

	if d, err := time.ParseDuration(c.Transport.Timeout); err != nil {
		add("transport.timeout", "invalid duration %q", c.Transport.Timeout)
	} else if d <= 0 || d > 10*time.Minute {
		add("transport.timeout", "must be between 0 and 10m, got %s", d)
	}
	if _, err := time.ParseDuration(c.Transport.RetryBaseDelay); err != nil {
		add("transport.retry_base_delay", "invalid duration %q", c.Transport.RetryBaseDelay)
	}
	if c.Transport.MaxRetries < 0 || c.Transport.MaxRetries > 10 {
		add("transport.max_retries", "must be between 0 and 10, got %d", c.Transport.MaxRetries)
	}
	if c.Transport.RateLimit < 0 {
		add("transport.rate_limit", "must not be negative")
	}
	if c.Transport.RateBurst < 0 {
		add("transport.rate_burst", "must not be negative")
	}

	switch c.Storage.Backend {
	case "memory", "file", "sqlite":
	default:
		add("storage.backend", "invalid backend '%s', must be one of: memory, file, sqlite", c.Storage.Backend)
	}
	if c.Storage.Encrypt && c.Storage.Backend != "file" {
		add("storage.encrypt", "encryption is only supported by the file backend")
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		add("log.level", "invalid level '%s'", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format", "invalid format '%s', must be one of: text, json", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("URL scheme must be http or https, got '%s'", u.Scheme)
	}
	if u.Host == "" {
		return "URL has no host"
	}
	return ""
}

// TransportOptions converts the [transport] section. Call only after Validate.
func (c *Config) TransportOptions() transport.Config {
	cfg := transport.DefaultConfig()
	if d, err := time.ParseDuration(c.Transport.Timeout); err == nil {
		cfg.Timeout = d
	}
	if d, err := time.ParseDuration(c.Transport.RetryBaseDelay); err == nil {
		cfg.RetryBaseDelay = d
	}
	cfg.MaxRetries = c.Transport.MaxRetries
	cfg.RateLimit = c.Transport.RateLimit
	cfg.RateBurst = c.Transport.RateBurst
	cfg.UserAgent = c.Transport.UserAgent
	return cfg
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CHATSYNC_AUTH_URL: overrides auth.base_url
//   - CHATSYNC_CHAT_URL: overrides chat.base_url
//   - CHATSYNC_MODEL: overrides chat.default_model
//   - CHATSYNC_TIMEOUT: overrides transport.timeout
//   - CHATSYNC_STORAGE: overrides storage.backend
//   - CHATSYNC_STORAGE_PATH: overrides storage.path
//   - CHATSYNC_STORAGE_PASSPHRASE: sets storage.passphrase and enables encryption
//   - CHATSYNC_LOG_LEVEL: overrides log.level
//   - CHATSYNC_LOG_FORMAT: overrides log.format
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CHATSYNC_AUTH_URL"); v != "" {
		c.Auth.BaseURL = v
	}
	if v := os.Getenv("CHATSYNC_CHAT_URL"); v != "" {
		c.Chat.BaseURL = v
	}
	if v := os.Getenv("CHATSYNC_MODEL"); v != "" {
		c.Chat.DefaultModel = v
	}
	if v := os.Getenv("CHATSYNC_TIMEOUT"); v != "" {
		c.Transport.Timeout = v
	}
	if v := os.Getenv("CHATSYNC_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("CHATSYNC_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("CHATSYNC_STORAGE_PASSPHRASE"); v != "" {
		c.Storage.Passphrase = v
		c.Storage.Encrypt = true
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CHATSYNC_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "chat.base_url").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's kind.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		name := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(n string) bool {
			return strings.EqualFold(n, name)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts snake_case or kebab-case to the Go field name.
// "base_url" becomes "BaseUrl", which matches BaseURL case-insensitively.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var result strings.Builder
	for _, part := range parts {
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

func setFieldValue(field reflect.Value, value any) error {
	if s, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(s)
			return nil
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %w", err)
			}
			field.SetInt(n)
			return nil
		case reflect.Float64:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %w", err)
			}
			field.SetFloat(f)
			return nil
		case reflect.Bool:
			b, err := strconv.ParseBool(s)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %w", err)
			}
			field.SetBool(b)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns every settable key in dot notation, in declaration order.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		section := tagName(f)
		if f.Type.Kind() != reflect.Struct {
			keys = append(keys, section)
			continue
		}
		for j := 0; j < f.Type.NumField(); j++ {
			keys = append(keys, section+"."+tagName(f.Type.Field(j)))
		}
	}
	return keys
}

func tagName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	if name == "" {
		return strings.ToLower(f.Name)
	}
	return name
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone returns a copy of the configuration. Config holds no reference types.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns indented JSON with the passphrase redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Storage.Passphrase != "" {
		safe.Storage.Passphrase = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the process-wide configuration, loading it on first access.
// Only the CLI uses it; library packages take values explicitly.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		if cfg == nil {
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state between tests.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
