package handover

import "errors"

var (
	// ErrNotFound is returned when the incident id is unknown.
	ErrNotFound = errors.New("incident not found")
	// ErrInvalidTransition is returned when the requested state change is
	// not in the transition table, including the loser of a concurrent
	// accept/reject race.
	ErrInvalidTransition = errors.New("invalid handover transition")
	// ErrNotAssignee is returned when the actor is not the engineer the
	// handover is assigned to.
	ErrNotAssignee = errors.New("actor is not the assigned engineer")
	// ErrMissingRejectionNote is returned when a rejection carries no note.
	ErrMissingRejectionNote = errors.New("rejection note is required")
)
