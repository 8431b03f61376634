package session

import "errors"

var (
	// ErrInvalidInput is returned for blank device ids or non-positive TTLs.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when no session row exists for a device.
	// Expired rows are not a distinct error; IsValid reads them as invalid.
	ErrNotFound = errors.New("session not found")
)
