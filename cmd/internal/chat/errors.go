package chat

import "errors"

var (
	// ErrInvalidInput is returned for blank thread/sender ids or empty bodies.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMessageTooLong is returned when a body exceeds maxMessageChars.
	ErrMessageTooLong = errors.New("message too long")
)
