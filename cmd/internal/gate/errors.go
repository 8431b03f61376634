package gate

import "errors"

var (
	// ErrInvalidInput is returned for blank tokens or device ids.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited is returned when a device exceeds the unlock attempt budget.
	ErrRateLimited = errors.New("rate limited")
)
