package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrOverlap       = errors.New("overlaps an existing highlight")
	ErrInvalid       = errors.New("invalid input")
)
