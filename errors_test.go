package orchestrator

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorStrings(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", &ErrValidation{Field: "temperature", Reason: "must be in [0, 2]"}, "temperature: must be in [0, 2]"},
		{"llm", &ErrLLM{Provider: "gemini", Message: "rate limited"}, "gemini: rate limited"},
		{"http", &ErrHTTP{Status: 502, Body: "bad gateway"}, "http 502: bad gateway"},
		{"api key", &ErrAPIKey{Provider: "openai", Message: "OPENAI_API_KEY not set"}, "openai: OPENAI_API_KEY not set"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecutionError_MessageIsClassified(t *testing.T) {
	raw := &ErrHTTP{Status: 500, Body: "stack trace with internals"}
	e := &ExecutionError{
		Message:  "Technical LLM service error (after 3 attempts)",
		Attempts: 3,
		original: raw,
	}
	if got := e.Error(); got != e.Message {
		t.Errorf("got %q, want the classified message", got)
	}
}

func TestExecutionError_UnwrapExposesOriginal(t *testing.T) {
	raw := &ErrHTTP{Status: 429, Body: "slow down"}
	wrapped := fmt.Errorf("attempt 3: %w", raw)
	e := &ExecutionError{Message: "safe", Attempts: 3, original: wrapped}

	var httpErr *ErrHTTP
	if !errors.As(e, &httpErr) {
		t.Fatal("errors.As did not reach the original error")
	}
	if httpErr.Status != 429 {
		t.Errorf("got status %d, want 429", httpErr.Status)
	}
}
