package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. These provide consistent, checkable
// errors for common business logic failures.
var (
	ErrNotFound      = errors.New("requested resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrUnauthorized is the class of all authorization rejections.
	ErrUnauthorized = errors.New("unauthorized")

	ErrNotMember         = fmt.Errorf("%w: you are not a member of this room", ErrUnauthorized)
	ErrRecipientNotFound = fmt.Errorf("%w: receiver not found", ErrUnauthorized)
	ErrRoomPrivate       = fmt.Errorf("%w: room is private", ErrUnauthorized)

	ErrRoomNotFound = fmt.Errorf("room %w", ErrNotFound)

	// ErrPersistence matches every PersistenceError.
	ErrPersistence = errors.New("persistence failure")
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

// PersistenceError reports a failed call into one of the external stores.
type PersistenceError struct {
	Op  string
	Err error
}

// NewPersistenceError wraps err unless it is nil or already a domain-level
// outcome such as ErrNotFound.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrUnauthorized) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrPersistence) match any PersistenceError.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
