package gate

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryTokenStore is a TokenStore for tests and single-process deployments.
type InMemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]UnlockToken // token hash -> record
}

// NewInMemoryTokenStore constructs an empty InMemoryTokenStore.
func NewInMemoryTokenStore() *InMemoryTokenStore {
	return &InMemoryTokenStore{tokens: make(map[string]UnlockToken)}
}

// Put stores a token record by hash.
func (s *InMemoryTokenStore) Put(_ context.Context, tok UnlockToken) error {
	if strings.TrimSpace(tok.TokenHash) == "" || strings.TrimSpace(tok.DeviceID) == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tok.TokenHash] = tok
	return nil
}

// Consume deletes the token if and only if it exists, belongs to deviceID
// and has not expired. Check and delete happen under one lock, so double
// consumption is impossible.
func (s *InMemoryTokenStore) Consume(_ context.Context, tokenHash, deviceID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[tokenHash]
	if !ok || tok.DeviceID != deviceID || !tok.ExpiresAt.After(now) {
		return ErrTokenNotFound
	}
	delete(s.tokens, tokenHash)
	return nil
}
