// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/chatsync/internal/auth"
	"github.com/jeranaias/chatsync/internal/chat"
	"github.com/jeranaias/chatsync/internal/config"
	"github.com/jeranaias/chatsync/internal/registry"
	"github.com/jeranaias/chatsync/internal/storage"
	"github.com/jeranaias/chatsync/internal/telemetry"
	"github.com/jeranaias/chatsync/internal/transport"
)

// syncTimeout bounds the work done after the watcher fires.
const syncTimeout = 10 * time.Second

// Client is the composition root. Its fields are safe for concurrent use.
type Client struct {
	Auth   *auth.Session
	Chat   *chat.Cache
	Models *registry.Registry
	Usage  *telemetry.UsageTracker

	store   storage.Store
	path    string
	watch   bool
	watcher *storage.Watcher
	log     *logrus.Entry
}

// New builds every component from cfg. Nothing touches the network until
// the caller invokes an operation.
func New(cfg *config.Config, logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	store, path, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	opts := cfg.TransportOptions()

	// The auth service gets its credential per call, never from a source.
	authAPI := transport.New(cfg.Auth.BaseURL, nil, opts, logger)
	sess := auth.New(authAPI, store, logger)

	chatAPI := transport.New(cfg.Chat.BaseURL, sess.Token, opts, logger)
	usage := telemetry.NewUsageTracker()

	return &Client{
		Auth:   sess,
		Chat:   chat.New(chatAPI, usage, logger),
		Models: registry.New(chatAPI, cfg.Chat.DefaultModel, logger),
		Usage:  usage,
		store:  store,
		path:   path,
		watch:  cfg.Storage.Watch && path != "",
		log:    logger.WithField("component", "client"),
	}, nil
}

// OpenStore opens the configured session store. The returned path is empty
// for the memory backend.
func OpenStore(cfg *config.Config) (storage.Store, string, error) {
	path, err := cfg.SessionPath()
	if err != nil {
		return nil, "", err
	}
	switch cfg.Storage.Backend {
	case storage.BackendMemory:
		return storage.NewMemoryStore(), "", nil
	case storage.BackendFile:
		opts := storage.FileOptions{}
		if cfg.Storage.Encrypt {
			if cfg.Storage.Passphrase == "" {
				return nil, "", errors.New("storage.encrypt is set but no passphrase was supplied (CHATSYNC_STORAGE_PASSPHRASE)")
			}
			opts.Passphrase = cfg.Storage.Passphrase
		}
		fs, err := storage.NewFileStore(path, opts)
		if err != nil {
			return nil, "", err
		}
		return fs, path, nil
	case storage.BackendSQLite:
		db, err := storage.OpenSQLiteStore(path)
		if err != nil {
			return nil, "", err
		}
		return db, path, nil
	}
	return nil, "", fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// Start restores a persisted session and, when configured, begins watching
// the store for changes made by other processes. A rejected credential is
// not an error; the session simply stays anonymous.
func (c *Client) Start(ctx context.Context) error {
	if err := c.Auth.Rehydrate(ctx); err != nil && !errors.Is(err, auth.ErrNotAuthenticated) {
		c.log.WithError(err).Debug("no session restored")
	}
	if !c.watch || c.watcher != nil {
		return nil
	}
	w, err := storage.NewWatcher(c.path, storage.DefaultDebounce, c.onStoreChange, c.log.Logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Close()
		return err
	}
	c.watcher = w
	return nil
}

func (c *Client) onStoreChange() {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()
	if err := c.Auth.Sync(ctx); err != nil {
		c.log.WithError(err).Warn("session sync after store change failed")
	}
}

// StorePath is where the session is persisted; empty for memory.
func (c *Client) StorePath() string {
	return c.path
}

// Close stops the watcher and releases the store.
func (c *Client) Close() error {
	var errs []error
	if c.watcher != nil {
		errs = append(errs, c.watcher.Close())
		c.watcher = nil
	}
	if closer, ok := c.store.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}
