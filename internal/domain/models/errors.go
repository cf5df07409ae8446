package models

import (
	"errors"
	"fmt"
)

var (
	// ErrScaleDisconnected indicates the scale is not reporting; surfaced as a connectivity flag.
	ErrScaleDisconnected = errors.New("scale disconnected")
	// ErrScaleBusy rejects a second concurrent session on the same scale.
	ErrScaleBusy = errors.New("scale busy")
	// ErrStabilityTimeout indicates no stable reading arrived within the configured bound.
	ErrStabilityTimeout = errors.New("no stable reading within bound")
	// ErrANPRTimeout indicates plate recognition did not resolve in time.
	ErrANPRTimeout = errors.New("anpr timeout")
	// ErrRequestInFlight rejects a second plate request for a session with one outstanding.
	ErrRequestInFlight = errors.New("anpr request already in flight")
	// ErrValidation rejects a malformed submission.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateSubmission marks a repeated submit answered with the prior result.
	ErrDuplicateSubmission = errors.New("duplicate submission")
	// ErrPersistence indicates the durable store could not be written after retries.
	ErrPersistence = errors.New("persistence failed")

	// ErrNoActiveSession indicates the scale has no session to act on.
	ErrNoActiveSession = errors.New("no active session on scale")
	// ErrSessionNotFound indicates the referenced session does not exist on the scale.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTransition rejects an operation not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrUnknownScale indicates the scale id is not configured.
	ErrUnknownScale = errors.New("unknown scale")
)

// ValidationError describes why a submission was rejected. The session is left unchanged.
type ValidationError struct {
	SessionID string
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed for session %s: %s", e.SessionID, e.Reason)
	}
	return fmt.Sprintf("validation failed for session %s: %s %s", e.SessionID, e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PersistenceError is returned once every persistence attempt for a session failed.
type PersistenceError struct {
	SessionID string
	Attempts  int
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist session %s failed after %d attempt(s): %v", e.SessionID, e.Attempts, e.Err)
}

// Unwrap exposes the last store error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
