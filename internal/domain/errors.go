package domain

import "errors"

// Coordinator error taxonomy. Callers match with errors.Is; nothing here
// is retried internally.
var (
	// ErrNotFound - room or participant absent.
	ErrNotFound = errors.New("not found")
	// ErrForbidden - role or permission violation, e.g. a non-host admitting.
	ErrForbidden = errors.New("forbidden")
	// ErrRoomFull - capacity exceeded on a new-participant join.
	ErrRoomFull = errors.New("room full")
	// ErrInvalidState - transition attempted from a state that does not permit it.
	ErrInvalidState = errors.New("invalid state")
	// ErrAuthFailed - upstream identity rejection.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrInvalidCode - room code fails the format rule.
	ErrInvalidCode = errors.New("invalid room code")
)
