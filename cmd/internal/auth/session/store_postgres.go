package session

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ciphertalk/cmd/identity/ids"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Expected schema (managed externally):
//
//	<schema>.sessions (id text pk, device_id text unique, expires_at timestamptz)
//
// The UNIQUE constraint on device_id is what makes the one-row-per-device
// invariant hold under concurrent refreshes; the upsert is a single
// statement, so no extra locking is required.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "ciphertalk").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRE.MatchString(schema) {
			return errors.New("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "ciphertalk"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("session: nil pool")
	}
	return st, nil
}

// Upsert creates or refreshes the single session row for deviceID.
func (s *PostgresStore) Upsert(ctx context.Context, deviceID string, expiresAt time.Time, now time.Time) (Session, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return Session{}, ErrInvalidInput
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Session{}, err
	}

	sessions := pgIdent(s.schema, "sessions")

	var row Session
	err = s.pool.QueryRow(ctx, `
		INSERT INTO `+sessions+` (id, device_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE SET expires_at = EXCLUDED.expires_at
		RETURNING id, device_id, expires_at
	`, id, deviceID, expiresAt).Scan(&row.ID, &row.DeviceID, &row.ExpiresAt)
	if err != nil {
		return Session{}, err
	}
	return row, nil
}

// GetByDevice loads the session row for deviceID.
func (s *PostgresStore) GetByDevice(ctx context.Context, deviceID string) (Session, error) {
	sessions := pgIdent(s.schema, "sessions")

	var row Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, device_id, expires_at FROM `+sessions+` WHERE device_id = $1`,
		strings.TrimSpace(deviceID),
	).Scan(&row.ID, &row.DeviceID, &row.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return row, nil
}

// DeleteByDevice removes all session rows for deviceID.
func (s *PostgresStore) DeleteByDevice(ctx context.Context, deviceID string) error {
	sessions := pgIdent(s.schema, "sessions")

	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+sessions+` WHERE device_id = $1`,
		strings.TrimSpace(deviceID),
	)
	return err
}
