package pipeline

import (
	"errors"

	"github.com/arcfault/switchboard/internal/providers"
)

// Kind is the stable, user-visible error classification.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindAuthDenied          Kind = "auth_denied"
	KindToolDenied          Kind = "tool_denied"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindUpstreamTimeout     Kind = "upstream_timeout"
	KindCacheUnavailable    Kind = "cache_unavailable"
	KindVectorUnavailable   Kind = "vector_unavailable"
	KindPersistFailed       Kind = "persist_failed"
	KindInternal            Kind = "internal"

	// KindBusy reports session-lock contention; the caller retries.
	KindBusy Kind = "busy"
)

// NonFatal reports whether the kind downgrades to a warning regardless of
// the stage's failure policy.
func (k Kind) NonFatal() bool {
	return k == KindCacheUnavailable || k == KindVectorUnavailable
}

// Error is a classified stage failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Errf builds a classified error.
func Errf(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the kind, defaulting to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// userMessage is the short human text put on the wire. Internal detail
// never leaves the process through this path.
func userMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// KindFromProviderError classifies a provider-layer failure into the
// pipeline taxonomy.
func KindFromProviderError(err error) Kind {
	switch providers.ReasonOf(err) {
	case providers.ReasonTimeout:
		return KindUpstreamTimeout
	case providers.ReasonInvalidRequest:
		return KindInvalidInput
	case providers.ReasonUnknown:
		return KindInternal
	default:
		// Auth, billing, rate limit, server error, model unavailable: the
		// caller cannot fix these, only failover could, and it already ran.
		return KindProviderUnavailable
	}
}
