package exercises

import (
	"errors"
	"fmt"
	"time"
)

var ErrExerciseNotFound = errors.New("exercise not found")

// ValidationError signals a missing required field or a malformed value.
// Always caused by client input, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid exercise: field [%s]: %s", e.Field, e.Reason)
}

// ConflictError signals that the candidate start time falls on or inside an
// already stored exercise interval of the same user.
type ConflictError struct {
	StartTime time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("there is already an exercise taking place at %s", e.StartTime)
}
