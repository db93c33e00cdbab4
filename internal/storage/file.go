// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"

	"github.com/jeranaias/chatsync/internal/model"
	"github.com/jeranaias/chatsync/internal/util"
)

// ageHeader prefixes every age-encrypted file.
const ageHeader = "age-encryption.org/v1"

// DefaultScryptWorkFactor is age's recommended scrypt cost (log2 N).
const DefaultScryptWorkFactor = 18

// FileOptions configures a FileStore.
type FileOptions struct {
	// Passphrase enables age scrypt encryption of the file when non-empty.
	Passphrase string

	// WorkFactor overrides the scrypt cost. Zero uses DefaultScryptWorkFactor.
	WorkFactor int
}

// FileStore persists the session as a JSON file with 0600 permissions.
type FileStore struct {
	mu   sync.Mutex
	path string
	opts FileOptions
}

// NewFileStore creates a store at path, creating the parent directory.
func NewFileStore(path string, opts FileOptions) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("storage: empty file path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	if opts.WorkFactor == 0 {
		opts.WorkFactor = DefaultScryptWorkFactor
	}
	return &FileStore{path: path, opts: opts}, nil
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// Encrypted reports whether the store writes age-encrypted files.
func (s *FileStore) Encrypted() bool {
	return s.opts.Passphrase != ""
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context) (*model.PersistedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrNotFound
	}

	if bytes.HasPrefix(data, []byte(ageHeader)) {
		if s.opts.Passphrase == "" {
			return nil, ErrLocked
		}
		data, err = s.decrypt(data)
		if err != nil {
			return nil, err
		}
	}

	var sess model.PersistedSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parsing session file: %w", err)
	}
	return &sess, nil
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, sess model.PersistedSession) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Passphrase != "" {
		data, err = s.encrypt(data)
		if err != nil {
			return err
		}
	}
	if err := util.AtomicWriteFile(s.path, data, 0600, 0700); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

func (s *FileStore) encrypt(plain []byte) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(s.opts.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(s.opts.WorkFactor)

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return nil, fmt.Errorf("encrypting session: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *FileStore) decrypt(cipher []byte) ([]byte, error) {
	identity, err := age.NewScryptIdentity(s.opts.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(cipher), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting session: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted session: %w", err)
	}
	return plain, nil
}
