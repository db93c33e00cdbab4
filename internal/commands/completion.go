// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"sort"
	"strings"

	"github.com/jeranaias/chatsync/internal/util"
)

// Completion is one candidate.
type Completion struct {
	Value       string
	Display     string
	Description string
	Score       int
}

// ConversationInfo is what conversation completion needs to know.
type ConversationInfo struct {
	ID    string
	Title string
}

// =============================================================================
// COMPLETER
// =============================================================================

// Completer handles tab completion for commands and arguments.
type Completer struct {
	registry *Registry

	// Callbacks for dynamic completion, set by the application.
	ModelsFn        func() []string
	ConversationsFn func() []ConversationInfo
}

// NewCompleter creates a new completer with the given registry.
func NewCompleter(registry *Registry) *Completer {
	return &Completer{registry: registry}
}

// Complete returns completions for the word being typed at the end of input.
func (c *Completer) Complete(input string) []Completion {
	input = strings.TrimLeft(input, " \t")
	if !IsCommand(input) {
		return nil
	}

	parts := splitCommandLine(input)
	trailingSpace := strings.HasSuffix(input, " ")
	if len(parts) == 1 && !trailingSpace {
		return c.completeCommands(parts[0])
	}

	cmd := c.registry.Get(parts[0])
	if cmd == nil {
		return nil
	}
	argIndex := len(parts) - 2
	partial := ""
	if trailingSpace {
		argIndex++
	} else {
		partial = parts[len(parts)-1]
	}
	return c.completeArg(cmd, argIndex, partial)
}

// Lines adapts Complete to line editors that replace the whole line.
func (c *Completer) Lines(line string) []string {
	completions := c.Complete(line)
	if len(completions) == 0 {
		return nil
	}
	prefix := line
	if !strings.HasSuffix(line, " ") {
		if i := strings.LastIndexAny(line, " \t"); i >= 0 {
			prefix = line[:i+1]
		} else {
			prefix = ""
		}
	}
	lines := make([]string, len(completions))
	for i, comp := range completions {
		lines[i] = prefix + comp.Value
	}
	return lines
}

// =============================================================================
// COMMAND COMPLETION
// =============================================================================

// completeCommands offers primary names only; aliases are accepted when typed.
func (c *Completer) completeCommands(partial string) []Completion {
	var completions []Completion
	partial = strings.ToLower(partial)

	for _, cmd := range c.registry.Visible() {
		if strings.HasPrefix(strings.ToLower(cmd.Name), partial) {
			completions = append(completions, Completion{
				Value:       cmd.Name,
				Display:     cmd.Name,
				Description: cmd.Description,
				Score:       calculateScore(cmd.Name, partial),
			})
		}
	}
	sortCompletions(completions)
	return completions
}

// =============================================================================
// ARGUMENT COMPLETION
// =============================================================================

func (c *Completer) completeArg(cmd *Command, argIndex int, partial string) []Completion {
	if argIndex < 0 || argIndex >= len(cmd.Args) {
		return nil
	}
	arg := cmd.Args[argIndex]

	switch arg.Type {
	case ArgTypeModel:
		if c.ModelsFn == nil {
			return nil
		}
		return completeFromList(c.ModelsFn(), partial)
	case ArgTypeConversation:
		return c.completeConversations(partial)
	case ArgTypeEnum:
		return completeFromList(arg.Values, partial)
	default:
		return nil
	}
}

// completeConversations matches ids by prefix and titles by substring.
func (c *Completer) completeConversations(partial string) []Completion {
	if c.ConversationsFn == nil {
		return nil
	}
	var completions []Completion
	partial = strings.ToLower(partial)

	for _, conv := range c.ConversationsFn() {
		idMatch := strings.HasPrefix(strings.ToLower(conv.ID), partial)
		titleMatch := strings.Contains(strings.ToLower(conv.Title), partial)
		if !idMatch && !titleMatch {
			continue
		}
		score := calculateScore(conv.ID, partial)
		if !idMatch {
			score -= 5
		}
		display := conv.ID
		if conv.Title != "" {
			display = conv.ID + " - " + util.TruncateRunes(conv.Title, 30)
		}
		completions = append(completions, Completion{Value: conv.ID, Display: display, Score: score})
	}
	sortCompletions(completions)
	return completions
}

func completeFromList(values []string, partial string) []Completion {
	var completions []Completion
	partial = strings.ToLower(partial)
	for _, value := range values {
		if strings.HasPrefix(strings.ToLower(value), partial) {
			completions = append(completions, Completion{
				Value:   value,
				Display: value,
				Score:   calculateScore(value, partial),
			})
		}
	}
	sortCompletions(completions)
	return completions
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// calculateScore ranks a candidate; higher is better. Exact matches win, then
// shorter prefix matches.
func calculateScore(value, partial string) int {
	value = strings.ToLower(value)
	partial = strings.ToLower(partial)

	score := 100
	if value == partial {
		return score + 100
	}
	if strings.HasPrefix(value, partial) {
		score += 50 + 20 - len(value)
	}
	return score - len(value)/2
}

// sortCompletions sorts by score (descending), then alphabetically.
func sortCompletions(completions []Completion) {
	sort.SliceStable(completions, func(i, j int) bool {
		if completions[i].Score != completions[j].Score {
			return completions[i].Score > completions[j].Score
		}
		return completions[i].Value < completions[j].Value
	})
}
