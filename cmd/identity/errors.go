package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput       = errors.New("invalid_input")
	ErrNotFound           = errors.New("not_found")
	ErrCredentialConflict = errors.New("credential_conflict")
	ErrBadCredentials     = errors.New("bad_credentials")
)

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err represents ErrCredentialConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrCredentialConflict) }
