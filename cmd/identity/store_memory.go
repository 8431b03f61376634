package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"ciphertalk/cmd/identity/ids"
)

// InMemoryStore is the dev/test fallback when DB is not configured.
// A single mutex makes the check-then-write paths (user upsert, device
// binding) atomic without further coordination.
type InMemoryStore struct {
	mu       sync.Mutex
	users    map[string]User   // user id -> user
	byHandle map[string]string // normalized handle -> user id
	devices  map[string]Device // device id -> device
	byUser   map[string]string // user id -> device id
	byCred   map[string]string // credential id -> device id
}

// NewInMemoryStore constructs an empty in-memory identity store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    make(map[string]User),
		byHandle: make(map[string]string),
		devices:  make(map[string]Device),
		byUser:   make(map[string]string),
		byCred:   make(map[string]string),
	}
}

// UpsertUserByHandle returns the existing user for handle or creates one.
func (s *InMemoryStore) UpsertUserByHandle(ctx context.Context, handle string, now time.Time) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	norm := NormalizeHandle(handle)
	if norm == "" {
		return User{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byHandle[norm]; ok {
		return s.users[id], nil
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}
	u := User{ID: id, Handle: norm, CreatedAt: now}
	s.users[id] = u
	s.byHandle[norm] = id
	return u, nil
}

// GetUserByID loads a user by id.
func (s *InMemoryStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.TrimSpace(userID)]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// GetUserByHandle loads a user by normalized handle.
func (s *InMemoryStore) GetUserByHandle(ctx context.Context, handle string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHandle[NormalizeHandle(handle)]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.users[id], nil
}

// BindDevice enforces the single-device policy under one mutex hold.
func (s *InMemoryStore) BindDevice(ctx context.Context, in BindDeviceInput) (Device, error) {
	if err := ctx.Err(); err != nil {
		return Device{}, err
	}
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.CredentialID) == "" {
		return Device{}, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[in.UserID]; !ok {
		return Device{}, ErrNotFound
	}

	// A credential already bound to a different user is a hard conflict.
	if devID, ok := s.byCred[in.CredentialID]; ok {
		if d := s.devices[devID]; d.UserID != in.UserID {
			return Device{}, ErrCredentialConflict
		}
	}

	if devID, ok := s.byUser[in.UserID]; ok {
		// Device replacement: rotate the credential in place.
		d := s.devices[devID]
		delete(s.byCred, d.CredentialID)
		d.CredentialID = in.CredentialID
		d.PublicKey = append([]byte(nil), in.PublicKey...)
		d.SignCount = 0
		d.UpdatedAt = now
		s.devices[devID] = d
		s.byCred[in.CredentialID] = devID
		return d, nil
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Device{}, err
	}
	d := Device{
		ID:           id,
		UserID:       in.UserID,
		CredentialID: in.CredentialID,
		PublicKey:    append([]byte(nil), in.PublicKey...),
		SignCount:    0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.devices[id] = d
	s.byUser[in.UserID] = id
	s.byCred[in.CredentialID] = id
	return d, nil
}

// GetDeviceByID loads a device by id.
func (s *InMemoryStore) GetDeviceByID(ctx context.Context, deviceID string) (Device, error) {
	if err := ctx.Err(); err != nil {
		return Device{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[strings.TrimSpace(deviceID)]
	if !ok {
		return Device{}, ErrNotFound
	}
	return d, nil
}

// GetDeviceByCredentialID loads a device by its credential id.
func (s *InMemoryStore) GetDeviceByCredentialID(ctx context.Context, credentialID string) (Device, error) {
	if err := ctx.Err(); err != nil {
		return Device{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCred[strings.TrimSpace(credentialID)]
	if !ok {
		return Device{}, ErrNotFound
	}
	return s.devices[id], nil
}

// GetDeviceByUserID loads the user's single device.
func (s *InMemoryStore) GetDeviceByUserID(ctx context.Context, userID string) (Device, error) {
	if err := ctx.Err(); err != nil {
		return Device{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUser[strings.TrimSpace(userID)]
	if !ok {
		return Device{}, ErrNotFound
	}
	return s.devices[id], nil
}

// UpdateSignCount persists the anti-replay counter.
func (s *InMemoryStore) UpdateSignCount(ctx context.Context, deviceID string, signCount uint32, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	d.SignCount = signCount
	d.UpdatedAt = now
	s.devices[deviceID] = d
	return nil
}
