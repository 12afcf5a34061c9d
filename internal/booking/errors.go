package booking

import "errors"

// Business-rule failures are recovered locally and returned as typed errors;
// handlers map them to HTTP codes. The transaction guarantees no partial
// state change accompanies any of these.
var (
	// ErrNotFound: booking, amendment or related record absent.
	ErrNotFound = errors.New("not found")
	// ErrForbidden: actor is not a party to the booking or has the wrong role.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState: transition attempted from a state that no longer
	// permits it, including the lost-race case where a sweeper or the other
	// party got there first.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation: malformed PIN, missing evidence, bad amount.
	ErrValidation = errors.New("validation failed")
	// ErrConflict: concurrent mutation detected, e.g. a second pending
	// amendment.
	ErrConflict = errors.New("conflict")
)
