package pulse

import "github.com/teranos/pulsed/errors"

// Sentinel errors for caller-visible failure classes.
// Use these with errors.Is(); wrap with errors.Wrap() to add context while
// preserving the class.
var (
	// ErrValidation indicates bad enqueue input; the pulse is never created
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState indicates an operation not allowed in the pulse's
	// current state (e.g. cancelling a running pulse). No state change.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotFound indicates the requested pulse does not exist
	ErrNotFound = errors.New("pulse not found")
)
