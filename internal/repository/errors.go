package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a version compare-and-swap fails
	ErrConflict = errors.New("conflict: poll was modified concurrently")

	// ErrDuplicate is returned when a unique constraint fails
	ErrDuplicate = errors.New("duplicate entity")

	// ErrForeignKeyViolation is returned when a foreign key constraint fails
	ErrForeignKeyViolation = errors.New("foreign key violation")
)
