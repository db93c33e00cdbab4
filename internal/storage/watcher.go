// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce coalesces the burst of events an atomic rename produces.
const DefaultDebounce = 200 * time.Millisecond

// Watcher calls a function after a store file changes on disk, for example
// when another process logs in or out.
type Watcher struct {
	path     string
	onChange func()
	debounce time.Duration
	log      *logrus.Entry

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	pending time.Time // zero when no change is pending
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a watcher for the file at path. onChange runs on the
// watcher goroutine, at most once per debounce window.
func NewWatcher(path string, debounce time.Duration, onChange func(), logger *logrus.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		debounce: debounce,
		log:      logger.WithFields(logrus.Fields{"component": "storage.watcher", "path": path}),
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory is watched rather than the
// file itself because atomic writes replace the file.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
	return nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(max(w.debounce/4, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("file watcher error")

		case now := <-ticker.C:
			w.mu.Lock()
			fire := !w.pending.IsZero() && now.Sub(w.pending) >= w.debounce
			if fire {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if fire {
				w.log.Debug("persisted session changed on disk")
				w.onChange()
			}
		}
	}
}
