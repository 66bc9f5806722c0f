package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailReason categorizes a backend failure for retry and failover logic.
type FailReason string

const (
	ReasonTimeout          FailReason = "timeout"
	ReasonRateLimit        FailReason = "rate_limit"
	ReasonAuth             FailReason = "auth"
	ReasonBilling          FailReason = "billing"
	ReasonModelUnavailable FailReason = "model_unavailable"
	ReasonServerError      FailReason = "server_error"
	ReasonInvalidRequest   FailReason = "invalid_request"
	ReasonUnknown          FailReason = "unknown"
)

// Retryable reports whether the same provider is worth retrying.
func (r FailReason) Retryable() bool {
	switch r {
	case ReasonTimeout, ReasonRateLimit, ReasonServerError:
		return true
	default:
		return false
	}
}

// Failover reports whether a different provider should be tried.
func (r FailReason) Failover() bool {
	switch r {
	case ReasonAuth, ReasonBilling, ReasonModelUnavailable,
		ReasonRateLimit, ReasonServerError, ReasonTimeout:
		return true
	default:
		return false
	}
}

// Error is a classified backend failure.
type Error struct {
	Reason   FailReason
	Provider string
	Model    string
	Status   int
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Reason, e.Provider)
	if e.Model != "" {
		fmt.Fprintf(&b, " model=%s", e.Model)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// WrapError classifies cause and attaches provider context. A nil cause
// returns nil.
func WrapError(provider, model string, cause error) error {
	if cause == nil {
		return nil
	}
	var perr *Error
	if errors.As(cause, &perr) {
		return cause
	}
	return &Error{
		Reason:   Classify(cause),
		Provider: provider,
		Model:    model,
		Cause:    cause,
	}
}

// ReasonOf extracts the failure reason from an error chain, classifying raw
// errors by content.
func ReasonOf(err error) FailReason {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Reason
	}
	return Classify(err)
}

// Classify determines the failure reason from error content. Backends do
// not agree on structured errors, so string patterns carry the weight;
// order matters, most specific first.
func Classify(err error) FailReason {
	if err == nil {
		return ReasonUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "timeout", "deadline exceeded", "context deadline"):
		return ReasonTimeout
	case containsAny(msg, "rate limit", "rate_limit", "too many requests", "429", "throttl"):
		return ReasonRateLimit
	case containsAny(msg, "unauthorized", "invalid api key", "invalid_api_key", "authentication", "access denied", "401", "403"):
		return ReasonAuth
	case containsAny(msg, "billing", "payment", "quota", "insufficient", "402"):
		return ReasonBilling
	case containsAny(msg, "model not found", "model_not_found", "does not exist", "unavailable", "not supported in this region"):
		return ReasonModelUnavailable
	case containsAny(msg, "internal server", "server error", "overloaded", "500", "502", "503", "504"):
		return ReasonServerError
	case containsAny(msg, "invalid request", "bad request", "400"):
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

// ClassifyStatus maps an HTTP status code to a failure reason.
func ClassifyStatus(status int) FailReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
