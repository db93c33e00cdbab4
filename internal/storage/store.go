// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/jeranaias/chatsync/internal/model"
)

// Error variables for storage operations.
var (
	// ErrNotFound is returned by Load when nothing has been persisted.
	ErrNotFound = errors.New("no persisted session")

	// ErrLocked is returned when an encrypted session is read without a passphrase.
	ErrLocked = errors.New("persisted session is encrypted")
)

// Backend names accepted by config.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Store is the persisted-session capability.
type Store interface {
	// Load returns the persisted session, or ErrNotFound.
	Load(ctx context.Context) (*model.PersistedSession, error)

	// Save replaces the persisted session.
	Save(ctx context.Context, sess model.PersistedSession) error

	// Clear erases the persisted session. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	sess  *model.PersistedSession
	saves int
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context) (*model.PersistedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil, ErrNotFound
	}
	cp := cloneSession(*m.sess)
	return &cp, nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, sess model.PersistedSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneSession(sess)
	m.sess = &cp
	m.saves++
	return nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = nil
	return nil
}

// Saves returns how many times Save has been called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func cloneSession(s model.PersistedSession) model.PersistedSession {
	if s.User != nil {
		s.User = s.User.Clone()
	}
	return s
}
