package providers

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want FailReason
	}{
		{"request timeout after 30s", ReasonTimeout},
		{"context deadline exceeded", ReasonTimeout},
		{"429 too many requests", ReasonRateLimit},
		{"ThrottlingException: rate exceeded", ReasonRateLimit},
		{"401 unauthorized", ReasonAuth},
		{"invalid api key provided", ReasonAuth},
		{"insufficient quota for this month", ReasonBilling},
		{"model not found: gpt-9", ReasonModelUnavailable},
		{"model is unavailable in this region", ReasonModelUnavailable},
		{"internal server error", ReasonServerError},
		{"503 service overloaded", ReasonServerError},
		{"bad request: missing messages", ReasonInvalidRequest},
		{"something odd happened", ReasonUnknown},
	}
	for _, tc := range cases {
		if got := Classify(errors.New(tc.msg)); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(nil); got != ReasonUnknown {
		t.Fatalf("Classify(nil) = %s", got)
	}
}

func TestReasonRetryableAndFailover(t *testing.T) {
	if !ReasonTimeout.Retryable() || !ReasonRateLimit.Retryable() || !ReasonServerError.Retryable() {
		t.Fatal("timeout, rate_limit, server_error must be retryable")
	}
	if ReasonAuth.Retryable() || ReasonInvalidRequest.Retryable() {
		t.Fatal("auth and invalid_request must not be retryable")
	}
	if !ReasonAuth.Failover() || !ReasonBilling.Failover() || !ReasonModelUnavailable.Failover() {
		t.Fatal("auth, billing, model_unavailable must fail over")
	}
	if ReasonInvalidRequest.Failover() || ReasonUnknown.Failover() {
		t.Fatal("invalid_request and unknown must not fail over")
	}
}

func TestWrapErrorPreservesClassified(t *testing.T) {
	orig := &Error{Reason: ReasonRateLimit, Provider: "alpha"}
	wrapped := WrapError("beta", "m", fmt.Errorf("call: %w", orig))
	if ReasonOf(wrapped) != ReasonRateLimit {
		t.Fatalf("reason = %s, want rate_limit", ReasonOf(wrapped))
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError("alpha", "m", nil) != nil {
		t.Fatal("WrapError(nil) should be nil")
	}
}

func TestErrorString(t *testing.T) {
	err := &Error{
		Reason:   ReasonAuth,
		Provider: "azure-prod",
		Model:    "gpt-4o",
		Status:   401,
		Cause:    errors.New("invalid api key"),
	}
	got := err.Error()
	want := "[auth] azure-prod model=gpt-4o status=401: invalid api key"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := map[int]FailReason{
		401: ReasonAuth,
		403: ReasonAuth,
		402: ReasonBilling,
		429: ReasonRateLimit,
		404: ReasonModelUnavailable,
		400: ReasonInvalidRequest,
		500: ReasonServerError,
		503: ReasonServerError,
		200: ReasonUnknown,
	}
	for status, want := range cases {
		if got := ClassifyStatus(status); got != want {
			t.Errorf("ClassifyStatus(%d) = %s, want %s", status, got, want)
		}
	}
}

func TestCollectAggregatesStream(t *testing.T) {
	ch := make(chan Chunk, 8)
	ch <- Chunk{Text: "Hello, "}
	ch <- Chunk{Text: "world."}
	ch <- Chunk{Done: true}
	close(ch)

	resp, err := Collect(ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Content != "Hello, world." {
		t.Fatalf("content = %q", resp.Content)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"12345678", 2},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}
