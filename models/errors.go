package models

import "errors"

// Error taxonomy shared by all engine components. Every rejection is a
// deterministic function of current state and input; staleness is a flag on
// reads, never an error.
var (
	// ErrValidation covers zero addresses, non-positive amounts and
	// unregistered custodians or wallets, rejected before any mutation.
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized is returned when the acting principal does not hold
	// the role required by the operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStateConflict is returned when the current state does not admit
	// the requested transition; the wrapped message names the state.
	ErrStateConflict = errors.New("state conflict")

	// ErrInvariant marks a would-be invariant break (capacity overrun,
	// negative balance). The operation aborts with nothing applied.
	ErrInvariant = errors.New("invariant violation")

	// ErrRateLimited is returned when a per-custodian sync arrives before
	// the minimum interval has elapsed.
	ErrRateLimited = errors.New("rate limited")
)
