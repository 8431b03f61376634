package binder

import "errors"

var (
	// ErrInvalidInput is returned for blank handles or challenge ids.
	ErrInvalidInput = errors.New("invalid input")

	// ErrChallengeNotFound covers unknown, expired and already-consumed
	// challenges; the caller treats the ceremony as timed out.
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrUserCancelled is mapped from clients reporting an aborted ceremony.
	ErrUserCancelled = errors.New("ceremony cancelled by user")
)
