package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"ciphertalk/cmd/security/password"
)

// Credential is the tagged variant over identity sources. Every source that
// can prove an identity (password table, hardware device) resolves through
// the same contract instead of ad-hoc branching on well-known ids.
type Credential interface {
	isCredential()
}

// PasswordCredential is a username/password pair from the legacy login path.
type PasswordCredential struct {
	Username string
	Password string
}

func (PasswordCredential) isCredential() {}

// DeviceCredential is a hardware credential id from the binding flow.
type DeviceCredential struct {
	CredentialID string
}

func (DeviceCredential) isCredential() {}

// Resolved is the outcome of credential resolution: the canonical user plus
// the device anchoring their session.
type Resolved struct {
	User   User
	Device Device
}

// CredentialResolver maps any identity source to a canonical user id.
type CredentialResolver interface {
	Resolve(ctx context.Context, cred Credential) (Resolved, error)
}

// passwordDeviceCredentialPrefix marks synthetic devices that anchor sessions
// for password-resolved users. They obey the same single-device invariant as
// hardware devices.
const passwordDeviceCredentialPrefix = "password:"

// Resolver is the store-backed CredentialResolver. Password hashes live in
// memory (seeded at startup); users and devices live in the Store.
type Resolver struct {
	store Store

	mu     sync.RWMutex
	hashes map[string]string // normalized handle -> argon2id PHC hash
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{
		store:  store,
		hashes: make(map[string]string),
	}
}

// SeedPasswordUser registers a password identity. The plain password is
// hashed with Argon2id and discarded.
func (r *Resolver) SeedPasswordUser(handle, plainPassword string) error {
	norm := NormalizeHandle(handle)
	if norm == "" {
		return ErrInvalidInput
	}

	enc, err := password.Hash(plainPassword, password.DefaultParams())
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.hashes[norm] = enc
	r.mu.Unlock()
	return nil
}

// Resolve maps a credential to its canonical user and device. The variant
// switch is exhaustive; unknown variants are a programming error surfaced as
// ErrInvalidInput.
func (r *Resolver) Resolve(ctx context.Context, cred Credential) (Resolved, error) {
	switch c := cred.(type) {
	case PasswordCredential:
		return r.resolvePassword(ctx, c)
	case DeviceCredential:
		return r.resolveDevice(ctx, c)
	default:
		return Resolved{}, ErrInvalidInput
	}
}

func (r *Resolver) resolvePassword(ctx context.Context, c PasswordCredential) (Resolved, error) {
	norm := NormalizeHandle(c.Username)
	pass := strings.TrimSpace(c.Password)
	if norm == "" || pass == "" {
		return Resolved{}, ErrInvalidInput
	}

	r.mu.RLock()
	enc, ok := r.hashes[norm]
	r.mu.RUnlock()
	if !ok {
		return Resolved{}, ErrBadCredentials
	}

	match, err := password.Verify(enc, pass)
	if err != nil {
		return Resolved{}, err
	}
	if !match {
		return Resolved{}, ErrBadCredentials
	}

	now := time.Now().UTC()

	// A legacy identity materializes a user row on first resolution.
	u, err := r.store.UpsertUserByHandle(ctx, norm, now)
	if err != nil {
		return Resolved{}, err
	}

	// Synthetic device: password users still get exactly one device row so
	// sessions and unlock tokens have a uniform anchor.
	d, err := r.store.GetDeviceByUserID(ctx, u.ID)
	if IsNotFound(err) {
		d, err = r.store.BindDevice(ctx, BindDeviceInput{
			UserID:       u.ID,
			CredentialID: passwordDeviceCredentialPrefix + norm,
			Now:          now,
		})
	}
	if err != nil {
		return Resolved{}, err
	}

	return Resolved{User: u, Device: d}, nil
}

func (r *Resolver) resolveDevice(ctx context.Context, c DeviceCredential) (Resolved, error) {
	credID := strings.TrimSpace(c.CredentialID)
	if credID == "" {
		return Resolved{}, ErrInvalidInput
	}

	d, err := r.store.GetDeviceByCredentialID(ctx, credID)
	if err != nil {
		return Resolved{}, err
	}
	u, err := r.store.GetUserByID(ctx, d.UserID)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{User: u, Device: d}, nil
}
