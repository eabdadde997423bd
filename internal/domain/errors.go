package domain

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("transaction state conflict")
	ErrExpired           = errors.New("transaction expired")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrDependencyFailure = errors.New("dependency failure")
	ErrDuplicateIntent   = errors.New("duplicate intent id")
)
