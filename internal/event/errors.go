package event

import (
	"errors"
	"fmt"
)

// Not-found conditions.
var (
	ErrNotFound        = errors.New("event not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrCreatorNotFound = errors.New("creator not found")
)

// Conflict kinds. Engine operations return them wrapped in a *ConflictError
// carrying a reason meant for the end user.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidLeadTime    = errors.New("insufficient lead time")
	ErrQuotaExceeded      = errors.New("event quota exceeded")
	ErrAlreadyFull        = errors.New("event is full")
	ErrAlreadyJoined      = errors.New("already a participant")
	ErrWrongStatus        = errors.New("event is not open")
	ErrNotAParticipant    = errors.New("not a participant")
	ErrCreatorCannotLeave = errors.New("creator cannot leave")
	ErrAlreadyCanceled    = errors.New("event already canceled")
)

// ConflictError reports a violated precondition. It is never transient.
type ConflictError struct {
	Kind   error
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

func (e *ConflictError) Unwrap() error {
	return e.Kind
}

func conflict(kind error, format string, args ...any) error {
	return &ConflictError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err is a precondition violation.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err refers to a missing event or user.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrCreatorNotFound)
}
