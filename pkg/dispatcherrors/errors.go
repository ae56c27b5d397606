// Package dispatcherrors defines the error taxonomy shared by every
// component of the request dispatch engine. Providers, the matcher, and
// the response pipeline all report failures as a *DispatchError so the
// Dispatcher can branch on retry/fallback eligibility without type
// assertions on lower-level error types.
package dispatcherrors

import (
	"fmt"
	"net/http"
)

// Kind enumerates the exhaustive set of dispatch failure categories.
type Kind string

const (
	KindClientNotFound       Kind = "client_not_found"
	KindUpstreamTimeout      Kind = "upstream_timeout"
	KindUpstreamConnect      Kind = "upstream_connect"
	KindUpstreamStatus       Kind = "upstream_status"
	KindMalformedUpstreamBody Kind = "malformed_upstream_body"
	KindInvalidRequest       Kind = "invalid_request"
	KindInvalidHeader        Kind = "invalid_header"
	KindInternal             Kind = "internal"
)

// DispatchError is the one error currency that crosses component
// boundaries inside the dispatch engine.
type DispatchError struct {
	Kind       Kind
	StatusCode int // only meaningful for KindUpstreamStatus
	Message    string
	Provider   string
	Model      string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s, status=%d)",
		e.Kind, e.Message, e.Provider, e.Model, e.StatusCode)
}

// Retryable reports whether this failure is eligible for RACE fan-out
// within the current model chain and subsequent cross-model fallback.
// Matches the propagation policy: 2xx is never an error, 4xx is a
// business error that must not be retried, 5xx/timeout/connect/malformed
// are transport-class failures eligible for fallback.
func (e *DispatchError) Retryable() bool {
	switch e.Kind {
	case KindUpstreamTimeout, KindUpstreamConnect, KindMalformedUpstreamBody:
		return true
	case KindUpstreamStatus:
		return e.StatusCode >= 500
	default:
		return false
	}
}

// HTTPStatusCode returns the status this error should surface to the
// inbound client when it terminates the request.
func (e *DispatchError) HTTPStatusCode() int {
	switch e.Kind {
	case KindClientNotFound:
		return http.StatusUnprocessableEntity
	case KindInvalidRequest:
		return http.StatusUnprocessableEntity
	case KindInvalidHeader:
		return http.StatusBadRequest
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamConnect:
		return http.StatusBadGateway
	case KindUpstreamStatus:
		if e.StatusCode > 0 {
			return e.StatusCode
		}
		return http.StatusBadGateway
	case KindMalformedUpstreamBody:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ErrorType returns the wire `error_type` string for the envelope body.
// Strings match the upstream-facing taxonomy this gateway's predecessor
// used, so existing client error handling built against it keeps working.
func (e *DispatchError) ErrorType() string {
	switch e.Kind {
	case KindClientNotFound:
		return "Input Validation Error"
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindInvalidHeader:
		return "invalid_request_error"
	case KindUpstreamTimeout:
		return "timeout_error"
	case KindUpstreamConnect:
		return "connection_error"
	case KindUpstreamStatus, KindMalformedUpstreamBody:
		return "upstream_error"
	default:
		return "internal_error"
	}
}

func NewClientNotFound(model string) *DispatchError {
	return &DispatchError{Kind: KindClientNotFound, Model: model, Message: fmt.Sprintf("no provider matches model %q", model)}
}

func NewInvalidRequest(message string) *DispatchError {
	return &DispatchError{Kind: KindInvalidRequest, Message: message}
}

func NewInvalidHeader(message string) *DispatchError {
	return &DispatchError{Kind: KindInvalidHeader, Message: message}
}

func NewUpstreamTimeout(provider, model, message string) *DispatchError {
	return &DispatchError{Kind: KindUpstreamTimeout, Provider: provider, Model: model, Message: message}
}

func NewUpstreamConnect(provider, model, message string) *DispatchError {
	return &DispatchError{Kind: KindUpstreamConnect, Provider: provider, Model: model, Message: message}
}

func NewUpstreamStatus(provider, model string, statusCode int, message string) *DispatchError {
	return &DispatchError{Kind: KindUpstreamStatus, Provider: provider, Model: model, StatusCode: statusCode, Message: message}
}

func NewMalformedUpstreamBody(provider, model, message string) *DispatchError {
	return &DispatchError{Kind: KindMalformedUpstreamBody, Provider: provider, Model: model, Message: message}
}

func NewInternal(message string) *DispatchError {
	return &DispatchError{Kind: KindInternal, Message: message}
}
