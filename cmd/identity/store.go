// Package identity owns CipherTalk's security principals: users, the single
// hardware-bound device per user, and the credential-resolution contract that
// maps any identity source onto a canonical user id.
package identity

import (
	"context"
	"time"
)

// User is the canonical security principal. The handle is immutable once set.
type User struct {
	ID        string
	Handle    string
	CreatedAt time.Time
}

// Device is the single hardware credential bound to a user.
//
// Invariant: at most one Device row per UserID. The credential may be rotated
// in place (device replacement); the row itself is never duplicated.
type Device struct {
	ID           string
	UserID       string
	CredentialID string
	PublicKey    []byte
	SignCount    uint32
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BindDeviceInput describes a device-binding request after a verified
// registration attestation.
type BindDeviceInput struct {
	UserID       string
	CredentialID string
	PublicKey    []byte
	Now          time.Time
}

// Store is the identity persistence boundary.
//
// Implementations must make UpsertUserByHandle and BindDevice atomic:
// two concurrent registrations for the same handle must converge on one user
// row and one device row (the later write rotates the credential in place).
type Store interface {
	// UpsertUserByHandle returns the existing user for handle or creates one.
	// The handle is normalized before lookup and never mutated afterwards.
	UpsertUserByHandle(ctx context.Context, handle string, now time.Time) (User, error)

	GetUserByID(ctx context.Context, userID string) (User, error)
	GetUserByHandle(ctx context.Context, handle string) (User, error)

	// BindDevice enforces the single-device policy: if a device already
	// exists for the user its credential is overwritten, otherwise a new
	// device row is created. The check-then-write is atomic.
	//
	// If the credential id is already bound to a *different* user,
	// ErrCredentialConflict is returned.
	BindDevice(ctx context.Context, in BindDeviceInput) (Device, error)

	GetDeviceByID(ctx context.Context, deviceID string) (Device, error)
	GetDeviceByCredentialID(ctx context.Context, credentialID string) (Device, error)
	GetDeviceByUserID(ctx context.Context, userID string) (Device, error)

	// UpdateSignCount persists the anti-replay counter after a successful
	// authentication.
	UpdateSignCount(ctx context.Context, deviceID string, signCount uint32, now time.Time) error
}
