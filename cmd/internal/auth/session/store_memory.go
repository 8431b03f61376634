package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"ciphertalk/cmd/identity/ids"
)

// InMemoryStore is the dev/test fallback when DB is not configured.
type InMemoryStore struct {
	mu       sync.Mutex
	byDevice map[string]Session
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byDevice: make(map[string]Session)}
}

// Upsert creates or refreshes the single session row for deviceID.
func (s *InMemoryStore) Upsert(ctx context.Context, deviceID string, expiresAt time.Time, now time.Time) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return Session{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byDevice[deviceID]; ok {
		existing.ExpiresAt = expiresAt
		s.byDevice[deviceID] = existing
		return existing, nil
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Session{}, err
	}
	row := Session{ID: id, DeviceID: deviceID, ExpiresAt: expiresAt}
	s.byDevice[deviceID] = row
	return row, nil
}

// GetByDevice loads the session row for deviceID.
func (s *InMemoryStore) GetByDevice(ctx context.Context, deviceID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byDevice[strings.TrimSpace(deviceID)]
	if !ok {
		return Session{}, ErrNotFound
	}
	return row, nil
}

// DeleteByDevice removes the session row for deviceID (noop when absent).
func (s *InMemoryStore) DeleteByDevice(ctx context.Context, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byDevice, strings.TrimSpace(deviceID))
	return nil
}
