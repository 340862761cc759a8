// Package resilience protects the retrieval engine from a slow or failing
// vector-store backend. It provides the error taxonomy for retrieval paths,
// a circuit breaker, exponential backoff with jitter, a bounded retry
// executor, and the resilient client that composes them.
package resilience

import (
	"errors"
	"fmt"
)

// Sentinel errors for the retrieval error taxonomy.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open and the
	// backend is not attempted. Fail-fast by design: safe to retry later,
	// but never retried by the client layer itself.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrInvalidQuery indicates malformed input. Never retried, surfaced
	// to the caller immediately.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrIndexCorruption indicates a keyword index inconsistency. Fatal
	// to that index (it must be rebuilt from source), but not to the
	// query if the vector path is still healthy.
	ErrIndexCorruption = errors.New("keyword index corruption detected")
)

// TransientError wraps a retryable backend failure (connection, timeout).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient backend error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransient wraps err as a transient, retryable failure.
func NewTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is a retryable backend failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// GraphWriteError wraps a failed memory-graph write. Non-fatal to the query
// path: logged and queued for retry by the behavior learner, never
// propagated to the user-facing retrieval call.
type GraphWriteError struct {
	InteractionID string
	Err           error
}

func (e *GraphWriteError) Error() string {
	return fmt.Sprintf("graph write failed for interaction %s: %v", e.InteractionID, e.Err)
}

func (e *GraphWriteError) Unwrap() error { return e.Err }

// BothSourcesFailedError is returned by Retrieve when every retrieval source
// failed. It carries the nested causes for diagnostics.
type BothSourcesFailedError struct {
	VectorErr  error
	KeywordErr error
}

func (e *BothSourcesFailedError) Error() string {
	return fmt.Sprintf("all retrieval sources failed: vector: %v; keyword: %v", e.VectorErr, e.KeywordErr)
}

// Unwrap exposes both causes to errors.Is/As.
func (e *BothSourcesFailedError) Unwrap() []error {
	return []error{e.VectorErr, e.KeywordErr}
}
