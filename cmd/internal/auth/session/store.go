// Package session implements the session ledger: one time-bounded session per
// device, refreshed with upsert semantics and revoked on logout.
package session

import (
	"context"
	"time"
)

// Session is the single active session row for a device.
type Session struct {
	ID        string
	DeviceID  string
	ExpiresAt time.Time
}

// Store abstracts persistence for device sessions.
//
// Implementations must give Upsert last-write-wins semantics on expiresAt so
// concurrent refreshes stay commutative, and must never hold more than one
// row per device id.
type Store interface {
	// Upsert creates the session row for deviceID or refreshes its expiry.
	Upsert(ctx context.Context, deviceID string, expiresAt time.Time, now time.Time) (Session, error)

	// GetByDevice loads the session row for deviceID.
	GetByDevice(ctx context.Context, deviceID string) (Session, error)

	// DeleteByDevice removes all session rows for deviceID.
	DeleteByDevice(ctx context.Context, deviceID string) error
}
