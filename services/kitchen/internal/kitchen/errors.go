package kitchen

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("item was updated by someone else")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotRecallable     = errors.New("item is not done")
	ErrWindowExpired     = errors.New("recall window expired")
	ErrAlreadyExists     = errors.New("item already exists")
	ErrInvalidItem       = errors.New("invalid item")
	ErrInvalidView       = errors.New("invalid view request")
)

// InvalidTransitionError names the stored and requested states of a rejected edge.
type InvalidTransitionError struct {
	Current   Status
	Requested Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move item from %s to %s", e.Current, e.Requested)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
