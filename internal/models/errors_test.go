package models

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"timeout", errors.New("context deadline exceeded"), ErrClassTimeout},
		{"network", errors.New("dial tcp: connection refused"), ErrClassNetwork},
		{"rate limit", errors.New("429 too many requests"), ErrClassRateLimit},
		{"auth", errors.New("401 unauthorized"), ErrClassAuth},
		{"bad input", errors.New("invalid argument: foo"), ErrClassBadInput},
		{"unknown", errors.New("something odd"), ErrClassUnknown},
		{"nil", nil, ErrClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorClassIsRetryable(t *testing.T) {
	retryable := []ErrorClass{ErrClassTimeout, ErrClassNetwork, ErrClassRateLimit}
	for _, c := range retryable {
		if !c.IsRetryable() {
			t.Errorf("%q.IsRetryable() = false, want true", c)
		}
	}
	notRetryable := []ErrorClass{ErrClassAuth, ErrClassBadInput, ErrClassUnknown}
	for _, c := range notRetryable {
		if c.IsRetryable() {
			t.Errorf("%q.IsRetryable() = true, want false", c)
		}
	}
}

func TestToolErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	toolErr := NewToolError("bash", cause)
	if !errors.Is(toolErr, cause) {
		t.Fatal("expected errors.Is to find wrapped cause")
	}
	if toolErr.Class != ErrClassUnknown {
		t.Errorf("Class = %q, want %q", toolErr.Class, ErrClassUnknown)
	}
}

func TestCancelledErrorUnwrap(t *testing.T) {
	var ce *CancelledError = &CancelledError{Reason: "user steer"}
	if !errors.Is(ce, ErrCancelled) {
		t.Fatal("expected errors.Is(ce, ErrCancelled) to be true")
	}
}
