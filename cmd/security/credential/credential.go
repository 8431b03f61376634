// Package credential implements verification primitives for hardware-bound
// credentials: challenge generation, Ed25519 signature checks, and the
// anti-replay signature counter.
//
// The wire model is deliberately narrow. An authenticator holds an Ed25519
// key pair; registration submits the public key plus a signature over the
// server challenge, authentication submits a fresh signature plus a counter
// that must strictly increase on every use.
package credential

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"strings"
)

const challengeBytes = 32

// NewChallenge returns a base64url-encoded random challenge.
func NewChallenge() (string, error) {
	b := make([]byte, challengeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Attestation is the client's signed response to a server challenge.
type Attestation struct {
	// CredentialID is the authenticator-chosen stable identifier.
	CredentialID string
	// PublicKey is the raw Ed25519 public key (registration responses only).
	PublicKey []byte
	// Signature is an Ed25519 signature over the raw challenge string.
	Signature []byte
	// SignCount is the authenticator's monotonically increasing use counter.
	SignCount uint32
}

// VerifyRegistration checks a registration attestation: the embedded public
// key must be well-formed and must have signed the challenge.
func VerifyRegistration(att Attestation, challenge string) error {
	if strings.TrimSpace(att.CredentialID) == "" {
		return ErrInvalidAttestation
	}
	if len(att.PublicKey) != ed25519.PublicKeySize {
		return ErrInvalidAttestation
	}
	return VerifyAssertion(att.PublicKey, challenge, att.Signature)
}

// VerifyAssertion checks an authentication signature against a stored key.
func VerifyAssertion(pub ed25519.PublicKey, challenge string, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if challenge == "" {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(pub, []byte(challenge), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// CheckCounter enforces the anti-replay contract: the presented counter must
// strictly exceed the stored one. A zero stored counter accepts any positive
// presented value (first authentication after registration).
func CheckCounter(stored, presented uint32) error {
	if presented <= stored {
		return ErrCounterReplay
	}
	return nil
}
