// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/chatsync/internal/auth"
	"github.com/jeranaias/chatsync/internal/chat"
	"github.com/jeranaias/chatsync/internal/config"
	"github.com/jeranaias/chatsync/internal/storage"
	"github.com/jeranaias/chatsync/internal/transport"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
)

// UsageError marks bad arguments or flags.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string {
	return e.Reason
}

func usageErrorf(format string, args ...any) error {
	return &UsageError{Reason: fmt.Sprintf(format, args...)}
}

// GetExitCode maps an error onto an exit code.
func GetExitCode(err error) int {
	var usage *UsageError
	var verrs config.ValidateErrors
	var tty *TTYRequiredError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &usage), errors.As(err, &tty),
		errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrEmptyPatch):
		return ExitUsageError
	case errors.As(err, &verrs), errors.Is(err, storage.ErrLocked):
		return ExitConfigError
	case errors.Is(err, transport.ErrUnauthorized), errors.Is(err, transport.ErrForbidden),
		errors.Is(err, auth.ErrNotAuthenticated):
		return ExitAuthError
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case errors.Is(err, transport.ErrNetwork), errors.Is(err, transport.ErrServer),
		errors.Is(err, transport.ErrRateLimited):
		return ExitNetworkError
	case errors.Is(err, transport.ErrNotFound), errors.Is(err, chat.ErrNoFailedMessage):
		return ExitNotFoundError
	}
	return ExitGeneralError
}

func errorType(err error) string {
	switch GetExitCode(err) {
	case ExitUsageError:
		return "usage_error"
	case ExitConfigError:
		return "config_error"
	case ExitAuthError:
		return "auth_error"
	case ExitTimeoutError:
		return "timeout_error"
	case ExitNetworkError:
		return "network_error"
	case ExitNotFoundError:
		return "not_found_error"
	}
	return "generic_error"
}

// DisplayError writes err to w, as JSON when jsonMode is set.
func DisplayError(w io.Writer, command string, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		NewJSONErrorResponse(command, err).Print(w)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}
