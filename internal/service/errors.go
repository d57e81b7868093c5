// Package service implements server state, important location and backup
// scheduling operations on top of a storage.Store. HTTP handlers, background
// workers and maintenance tasks all go through it.
package service

import "errors"

// ErrValidation is matched by every ValidationError via errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError reports invalid caller input. Its message is safe to show to clients.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Is makes errors.Is(err, ErrValidation) true for validation errors.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(msg string) error {
	return &ValidationError{Msg: msg}
}
