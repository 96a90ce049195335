// Package apperr defines the error taxonomy shared by every handler and the
// mapping from error kind to HTTP status.
package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	KindInvalidCallback     Kind = "invalid_callback"
	KindInvalidRequest      Kind = "invalid_request"
	KindUnsupportedProvider Kind = "unsupported_provider"
	KindTokenExchange       Kind = "token_exchange_failed"
	KindUnauthorized        Kind = "unauthorized"
	KindPermissionDenied    Kind = "permission_denied"
	KindNotConnected        Kind = "not_connected"
	KindStorage             Kind = "storage_error"
	KindTimeout             Kind = "timeout"
	KindNotConfigured       Kind = "not_configured"
	KindInternal            Kind = "internal_error"
)

// Error is the concrete error type carried through the service layers.
type Error struct {
	Kind    Kind
	Message string
	// Detail holds diagnostic text (e.g. a provider's error body). It is logged
	// but never contains client secrets.
	Detail string
	// RedirectMismatch marks a token exchange rejected because the presented
	// redirect_uri did not match the registered one.
	RedirectMismatch bool
	Err              error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can write errors.Is(err, apperr.ErrTimeout).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons by kind.
var (
	ErrInvalidCallback     = &Error{Kind: KindInvalidCallback}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
	ErrUnsupportedProvider = &Error{Kind: KindUnsupportedProvider}
	ErrTokenExchange       = &Error{Kind: KindTokenExchange}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrPermissionDenied    = &Error{Kind: KindPermissionDenied}
	ErrNotConnected        = &Error{Kind: KindNotConnected}
	ErrStorage             = &Error{Kind: KindStorage}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrNotConfigured       = &Error{Kind: KindNotConfigured}
)

func InvalidCallback(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidCallback, Message: fmt.Sprintf(format, args...)}
}

func InvalidRequest(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// UnsupportedProvider reports a platform name outside the closed provider set.
func UnsupportedProvider(name string) *Error {
	return &Error{Kind: KindUnsupportedProvider, Message: "Unsupported platform: " + name}
}

// TokenExchange reports a provider rejecting a code, refresh token or
// credentials. detail is the provider's response body.
func TokenExchange(message, detail string, err error) *Error {
	return &Error{Kind: KindTokenExchange, Message: message, Detail: detail, Err: err}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// PermissionDenied reports a capability the user has not consented to.
func PermissionDenied(capability string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: capability + " not enabled"}
}

// Forbidden reports an authenticated caller acting outside its own account.
func Forbidden(message string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: message}
}

func NotConnected(platform string) *Error {
	return &Error{Kind: KindNotConnected, Message: "Platform not connected: " + platform}
}

// Storage wraps a persistence failure. Deadline errors become Timeout.
func Storage(op string, err error) *Error {
	if IsDeadline(err) {
		return Timeout(op, err)
	}
	return &Error{Kind: KindStorage, Message: op + " failed", Err: err}
}

func Timeout(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Message: op + " timed out", Err: err}
}

func NotConfigured(feature string) *Error {
	return &Error{Kind: KindNotConfigured, Message: feature + " is not configured"}
}

// IsDeadline reports whether err is a context deadline or a network timeout.
func IsDeadline(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidCallback, KindInvalidRequest, KindUnsupportedProvider, KindTokenExchange:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotConnected:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindNotConfigured:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the JSON body written for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  Kind   `json:"code"`
}

// WriteJSON writes err as a JSON error body with its mapped status. Foreign
// errors are reported with a generic message.
func WriteJSON(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	kind := KindOf(err)

	message := "internal server error"
	var appErr *Error
	if errors.As(err, &appErr) && kind != KindInternal {
		message = appErr.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: kind}); encErr != nil {
		slog.Error("failed to encode error response", "error", encErr)
	}
}
