// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry tracks the model providers the chat service offers and
// the one currently selected.
//
// The descriptor snapshot is replaced wholesale by LoadModels and never
// mutated in place. Selection is local and unvalidated: SetSelectedModel
// accepts any id, and callers that care use Lookup first.
//
// # Usage
//
//	reg := registry.New(chatAPI, "openai", logger)
//	if err := reg.LoadModels(ctx); err != nil {
//	    log.Println(reg.Err())
//	}
//	for _, m := range reg.Online() {
//	    fmt.Println(m.DisplayName(), m.CostString())
//	}
package registry
