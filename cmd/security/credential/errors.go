package credential

import "errors"

// Public, stable errors for callers.
var (
	ErrInvalidAttestation = errors.New("invalid attestation")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrCounterReplay      = errors.New("signature counter did not increase")
)
