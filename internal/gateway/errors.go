// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// =============================================================================
// ERROR CODES
// =============================================================================

// Code identifies a failure class. Callers branch on codes, never on messages.
type Code string

const (
	CodeRequestTimeout      Code = "request_timeout"
	CodeRequestCancelled    Code = "request_cancelled"
	CodeBridgeUnavailable   Code = "bridge_unavailable"
	CodeInvalidJSON         Code = "invalid_json"
	CodeOllamaHTTP          Code = "ollama_http_error"
	CodeInvalidArgument     Code = "invalid_argument"
	CodeInvalidStreamHandle Code = "invalid_stream_handle"
	CodeParseError          Code = "parse_error"
	CodeStreamError         Code = "stream_error"
	CodeUnknown             Code = "unknown_error"
)

// FailedCode returns the "<bridge>_<method>_failed" code for a bridge call,
// e.g. FailedCode("miso", "status") == "miso_status_failed".
func FailedCode(bridge, method string) Code {
	return Code(snake(bridge) + "_" + snake(method) + "_failed")
}

// snake lowercases s and turns camelCase humps and separators into "_".
func snake(s string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		case r == '-' || r == '.' || r == ' ' || r == '/':
			b.WriteByte('_')
			prevLower = false
		default:
			b.WriteRune(r)
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}
	return b.String()
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is the one error shape reported by rigrun-agent.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Details map[string]any
}

// New creates an Error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code so sentinel comparisons work with
// errors.Is regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns e with key set in Details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is checks.
var (
	ErrTimeout           = New(CodeRequestTimeout, "request timed out")
	ErrCancelled         = New(CodeRequestCancelled, "request cancelled")
	ErrBridgeUnavailable = New(CodeBridgeUnavailable, "bridge capability unavailable")
	ErrInvalidJSON       = New(CodeInvalidJSON, "invalid JSON body")
)

// =============================================================================
// NORMALIZATION
// =============================================================================

// CodeOf returns the code of err, or "" for nil.
// Errors that are not *Error report CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Normalize converts any error into an *Error. Existing *Error values pass
// through unchanged; deadline and cancellation errors, JSON syntax errors and
// everything else are classified, with fallback used for the unclassified.
func Normalize(err error, fallback Code) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(CodeRequestTimeout, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return Wrap(CodeRequestCancelled, "request cancelled", err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return Wrap(CodeInvalidJSON, "invalid JSON body", err)
	}

	if fallback == "" {
		fallback = CodeUnknown
	}
	return Wrap(fallback, "operation failed", err)
}

// DecodeJSON unmarshals data into v, reporting failures as invalid_json.
func DecodeJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return Wrap(CodeInvalidJSON, "invalid JSON body", err).WithDetail("length", len(data))
	}
	return nil
}
