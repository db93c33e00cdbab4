// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultProvider is the provider selected before the user picks one.
const DefaultProvider = "openai"

// ModelStatus is the availability of a model.
type ModelStatus string

const (
	StatusOnline      ModelStatus = "online"
	StatusOffline     ModelStatus = "offline"
	StatusMaintenance ModelStatus = "maintenance"
)

// TokenCost is the price per 1000 tokens.
type TokenCost struct {
	Input  decimal.Decimal `json:"input"`
	Output decimal.Decimal `json:"output"`
}

// =============================================================================
// MODEL DESCRIPTOR
// =============================================================================

// ModelDescriptor is a provider's offered model as listed by GET /models.
// Snapshots are read-only; the registry replaces them wholesale.
type ModelDescriptor struct {
	Provider          string      `json:"provider"`
	Model             string      `json:"model"`
	Name              string      `json:"name"`
	Description       string      `json:"description,omitempty"`
	Status            ModelStatus `json:"status"`
	ResponseTimeAvg   float64     `json:"response_time_avg"`
	ErrorRate         float64     `json:"error_rate"`
	CostPer1K         TokenCost   `json:"cost_per_1k_tokens"`
	MaxTokens         int         `json:"max_tokens"`
	SupportsStreaming bool        `json:"supports_streaming"`
}

// UnmarshalJSON accepts both the nested cost_per_1k_tokens object and the
// flat cost_per_1k_input / cost_per_1k_output fields the chat service emits.
func (m *ModelDescriptor) UnmarshalJSON(data []byte) error {
	type plain ModelDescriptor
	var aux struct {
		plain
		FlatInput  *decimal.Decimal `json:"cost_per_1k_input"`
		FlatOutput *decimal.Decimal `json:"cost_per_1k_output"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = ModelDescriptor(aux.plain)
	if aux.FlatInput != nil {
		m.CostPer1K.Input = *aux.FlatInput
	}
	if aux.FlatOutput != nil {
		m.CostPer1K.Output = *aux.FlatOutput
	}
	return nil
}

// IsOnline reports whether the model currently accepts requests.
// Descriptors without a status are treated as online.
func (m ModelDescriptor) IsOnline() bool {
	return m.Status == "" || m.Status == StatusOnline
}

// DisplayName returns the name, falling back to provider/model.
func (m ModelDescriptor) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Provider + "/" + m.Model
}

// Matches reports whether id names this descriptor, either by provider id,
// model id or "provider/model".
func (m ModelDescriptor) Matches(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && (strings.EqualFold(id, m.Provider) ||
		strings.EqualFold(id, m.Model) ||
		strings.EqualFold(id, m.Provider+"/"+m.Model))
}

// EstimateCost prices a request with the given token counts.
func (m ModelDescriptor) EstimateCost(inputTokens, outputTokens int) decimal.Decimal {
	thousand := decimal.NewFromInt(1000)
	in := m.CostPer1K.Input.Mul(decimal.NewFromInt(int64(inputTokens))).Div(thousand)
	out := m.CostPer1K.Output.Mul(decimal.NewFromInt(int64(outputTokens))).Div(thousand)
	return in.Add(out)
}

// CostString formats the per-1k pricing for listings.
func (m ModelDescriptor) CostString() string {
	if m.CostPer1K.Input.IsZero() && m.CostPer1K.Output.IsZero() {
		return "free"
	}
	return fmt.Sprintf("$%s in / $%s out per 1K",
		m.CostPer1K.Input.String(), m.CostPer1K.Output.String())
}
