package booking

import (
	"errors"
	"fmt"
)

// Failures returned by the service.  Callers match them with errors.Is and
// translate them into user-facing responses.
var (
	// ErrCapacityExhausted means every tier is full; retrying is pointless.
	ErrCapacityExhausted = errors.New("no tickets available in any category")
	// ErrConcurrencyConflict means another booking took the chosen number
	// first; the whole admission may be retried.
	ErrConcurrencyConflict = errors.New("this ticket has just been booked by another user, please try again")
	// ErrNotFound means the ticket ID is unknown.
	ErrNotFound = errors.New("ticket not found")
	// ErrAlreadyCancelled means the ticket was cancelled earlier.
	ErrAlreadyCancelled = errors.New("ticket is already cancelled")
	// ErrInvalidDependent covers a child payload at or above the age limit
	// and a child trying to book a berth directly.
	ErrInvalidDependent = errors.New("invalid child passenger")
)

// ValidationError reports malformed passenger input.  The service assumes
// validated input and never returns it; the HTTP layer does.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
