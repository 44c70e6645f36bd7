package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when audio capture is refused.
	ErrPermissionDenied = errors.New("audio capture permission denied")

	// ErrConnection is returned when the transcription channel cannot be opened.
	ErrConnection = errors.New("transcription channel connection failed")

	// ErrChannel reports that an open transcription channel failed.
	ErrChannel = errors.New("transcription channel error")

	// ErrInvalidState is returned for operations not allowed in the current status.
	ErrInvalidState = errors.New("invalid session state")

	// ErrStartAborted is returned by Start when Stop ran while connecting.
	ErrStartAborted = errors.New("session start aborted")

	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")
)

// StateError describes an operation attempted in the wrong status.
type StateError struct {
	Op     string
	Status SessionStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.Status)
}

// Is matches ErrInvalidState.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}
