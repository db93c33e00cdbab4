// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error variables for classifying failures with errors.Is.
var (
	// ErrUnauthorized indicates missing, invalid or expired credentials (401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the credential is valid but not allowed (403).
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the resource does not exist (404).
	ErrNotFound = errors.New("not found")

	// ErrRateLimited indicates too many requests were made (429).
	ErrRateLimited = errors.New("rate limited")

	// ErrServer indicates a 5xx response.
	ErrServer = errors.New("server error")

	// ErrNetwork indicates the request never produced a response.
	ErrNetwork = errors.New("network error")

	// ErrResponseTooLarge indicates the body exceeded MaxResponseSize.
	ErrResponseTooLarge = errors.New("response too large")
)

// APIError represents a non-2xx response from a service.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s: [%s] (HTTP %d): %s", e.Method, e.Path, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: (HTTP %d): %s", e.Method, e.Path, e.Status, e.Message)
}

// Unwrap maps the status code onto the package's sentinel errors.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Status == http.StatusForbidden:
		return ErrForbidden
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.Status >= 500:
		return ErrServer
	}
	return nil
}

// Temporary reports whether repeating the request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// errorBody covers both FastAPI's {"detail": ...} and the services'
// {"success": false, "message": ..., "error_code": ...} envelope.
type errorBody struct {
	Detail    json.RawMessage `json:"detail"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"error_code"`
	Error     json.RawMessage `json:"error"`
}

// newAPIError builds an APIError from a failed response.
func newAPIError(method, path string, status int, body []byte) *APIError {
	apiErr := &APIError{Method: method, Path: path, Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		apiErr.Code = eb.ErrorCode
		switch {
		case len(eb.Detail) > 0:
			apiErr.Message = rawText(eb.Detail)
		case eb.Message != "":
			apiErr.Message = eb.Message
		case len(eb.Error) > 0:
			apiErr.Message = rawText(eb.Error)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// rawText renders a JSON value as text: strings unquoted, anything else as
// compact JSON.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
