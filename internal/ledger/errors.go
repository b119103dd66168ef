package ledger

import "errors"

var (
	// ErrCircuitOpen indicates the breaker is rejecting calls during its
	// cool-down window.
	ErrCircuitOpen = errors.New("ledger circuit open")
	// ErrExhausted indicates every retry attempt failed; it wraps the
	// last underlying error.
	ErrExhausted = errors.New("ledger retries exhausted")
	// ErrRemote indicates the ledger answered with an error status.
	ErrRemote = errors.New("ledger remote error")
)
