// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/chatsync/internal/model"
	"github.com/jeranaias/chatsync/internal/transport"
)

// ErrStale is returned by LoadModels when a later load superseded it.
var ErrStale = errors.New("stale model list discarded")

const msgLoadModelsFailed = "Failed to load models"

// Registry owns the model descriptor snapshot and the selected model id.
type Registry struct {
	api *transport.Client
	log *logrus.Entry

	mu       sync.RWMutex
	models   []model.ModelDescriptor
	selected string
	err      string
	loading  int
	seq      uint64
}

// New creates a registry with selected as the initial selection; an empty
// selection defaults to model.DefaultProvider.
func New(api *transport.Client, selected string, logger *logrus.Logger) *Registry {
	if strings.TrimSpace(selected) == "" {
		selected = model.DefaultProvider
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		api:      api,
		selected: selected,
		log:      logger.WithField("component", "registry"),
	}
}

// LoadModels replaces the snapshot with the service's current list.
func (r *Registry) LoadModels(ctx context.Context) error {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.loading++
	r.mu.Unlock()

	var models []model.ModelDescriptor
	resp, err := r.api.Get(ctx, "/models")
	if err == nil {
		models, err = transport.DecodeList[model.ModelDescriptor](resp, "models")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.loading--
	if seq != r.seq {
		return ErrStale
	}
	if err != nil {
		r.err = msgLoadModelsFailed
		r.log.WithError(err).Warn(msgLoadModelsFailed)
		return fmt.Errorf("load models: %w", err)
	}
	r.models = models
	r.err = ""
	r.log.WithField("count", len(models)).Debug("models loaded")
	return nil
}

// SetSelectedModel changes the selection. The id is not validated.
func (r *Registry) SetSelectedModel(id string) {
	r.mu.Lock()
	r.selected = id
	r.mu.Unlock()
}

// Selected returns the selected model id.
func (r *Registry) Selected() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

// Models returns a copy of the snapshot.
func (r *Registry) Models() []model.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.ModelDescriptor(nil), r.models...)
}

// Lookup finds the descriptor named by id (provider, model or
// provider/model).
func (r *Registry) Lookup(id string) (model.ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.models {
		if m.Matches(id) {
			return m, true
		}
	}
	return model.ModelDescriptor{}, false
}

// Online returns the descriptors currently accepting requests.
func (r *Registry) Online() []model.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.ModelDescriptor
	for _, m := range r.models {
		if m.IsOnline() {
			out = append(out, m)
		}
	}
	return out
}

// Loading reports whether a load is in flight.
func (r *Registry) Loading() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loading > 0
}

// Err returns the last user-facing error message, or "".
func (r *Registry) Err() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}
