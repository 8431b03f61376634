package session

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultTTL is applied when callers pass a non-positive TTL.
// Finishing a registration grants a one-hour session.
const DefaultTTL = time.Hour

// Ledger implements the high-level session operations.
//
// Concurrency model: refreshes are commutative (last write wins on
// expiresAt), so the ledger needs no locking beyond the store's own atomic
// upsert.
type Ledger struct {
	store Store
}

// NewLedger constructs a Ledger over the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// CreateOrRefresh upserts the device's session with a fresh expiry.
func (l *Ledger) CreateOrRefresh(ctx context.Context, deviceID string, ttl time.Duration) (Session, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return Session{}, ErrInvalidInput
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now().UTC()
	return l.store.Upsert(ctx, deviceID, now.Add(ttl), now)
}

// IsValid reports whether the device holds an unexpired session.
// Storage errors other than "no row" are propagated so transient failures
// are not mistaken for a missing session.
func (l *Ledger) IsValid(ctx context.Context, deviceID string) (bool, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return false, ErrInvalidInput
	}

	s, err := l.store.GetByDevice(ctx, deviceID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.ExpiresAt.After(time.Now().UTC()), nil
}

// RevokeByDevice deletes all sessions for the device; used on logout.
func (l *Ledger) RevokeByDevice(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrInvalidInput
	}
	return l.store.DeleteByDevice(ctx, deviceID)
}
