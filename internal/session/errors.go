package session

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers deciding whether to retry.
type Kind string

const (
	KindQuotaDenied      Kind = "quota_denied"
	KindNotFound         Kind = "not_found"
	KindAlreadyEnded     Kind = "already_ended"
	KindInvalidRequest   Kind = "invalid_request"
	KindStoreUnavailable Kind = "store_unavailable"
	KindUpstreamFailed   Kind = "upstream_failed"
)

var (
	ErrQuotaDenied      = errors.New("session quota exhausted")
	ErrNotFound         = errors.New("session not found or ended")
	ErrAlreadyEnded     = errors.New("session already ended")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrStoreUnavailable = errors.New("session store unavailable")
	ErrUpstream         = errors.New("model provider failed")
)

// Retryable reports whether the same request may succeed later unchanged.
// Denials are never retryable.
func (k Kind) Retryable() bool {
	switch k {
	case KindStoreUnavailable, KindUpstreamFailed:
		return true
	default:
		return false
	}
}

func (k Kind) HTTPStatus() int {
	switch k {
	case KindQuotaDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyEnded:
		return http.StatusConflict
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUpstreamFailed:
		return http.StatusBadGateway
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindQuotaDenied:
		return ErrQuotaDenied
	case KindNotFound:
		return ErrNotFound
	case KindAlreadyEnded:
		return ErrAlreadyEnded
	case KindInvalidRequest:
		return ErrInvalidRequest
	case KindStoreUnavailable:
		return ErrStoreUnavailable
	case KindUpstreamFailed:
		return ErrUpstream
	default:
		return nil
	}
}

// Error is the structured failure returned by every Manager operation.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for the error's kind, so errors.Is(err, ErrNotFound)
// works regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// Retryable reports whether the caller may retry. Upstream failures defer to
// the cause when it carries its own classification.
func (e *Error) Retryable() bool {
	if e.Kind == KindUpstreamFailed {
		var r interface{ Retryable() bool }
		if errors.As(e.Cause, &r) {
			return r.Retryable()
		}
	}
	return e.Kind.Retryable()
}

// KindOf extracts the kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
