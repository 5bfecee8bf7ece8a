package suppression

import "errors"

var (
	// ErrNotFound is returned when removing a recipient that is not on the
	// tenant's list.
	ErrNotFound = errors.New("recipient not suppressed")
	// ErrInvalid wraps entry validation failures.
	ErrInvalid = errors.New("invalid suppression entry")
)
