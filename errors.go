package orchestrator

import "fmt"

// ErrValidation reports a rejected input field.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ErrLLM is a provider-reported failure: malformed response shape,
// refused request, missing capability.
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a non-2xx response from a provider API.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrAPIKey reports a missing or malformed provider credential.
// Message never contains the key itself (see MaskAPIKey).
type ErrAPIKey struct {
	Provider string
	Message  string
}

func (e *ErrAPIKey) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ExecutionError is what the resilient LLM call path returns once all
// retry attempts are spent. Message is classified and safe to show users;
// the original error text lives only in the session trace.
type ExecutionError struct {
	Message  string
	Attempts int
	original error
}

func (e *ExecutionError) Error() string { return e.Message }

// Unwrap exposes the last attempt's error for errors.Is/As inspection.
// It is never rendered on user-visible surfaces.
func (e *ExecutionError) Unwrap() error { return e.original }
