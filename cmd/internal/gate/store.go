package gate

import (
	"context"
	"errors"
	"time"
)

// ErrTokenNotFound covers all verification denials: unknown token, wrong
// device, already consumed, expired. The caller cannot distinguish these
// on purpose.
var ErrTokenNotFound = errors.New("unlock token not found")

// UnlockToken is the persisted record of a minted token. Only the hash of
// the token value is stored.
type UnlockToken struct {
	TokenHash string
	DeviceID  string
	ExpiresAt time.Time
}

// TokenStore persists unlock tokens keyed by their hash.
//
// Consume must be atomic: exactly one of N concurrent consumers of the same
// token may succeed, and the row must be gone afterwards.
type TokenStore interface {
	Put(ctx context.Context, tok UnlockToken) error
	Consume(ctx context.Context, tokenHash, deviceID string, now time.Time) error
}
