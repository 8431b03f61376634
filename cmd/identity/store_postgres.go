package identity

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
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//
// Expected schema (managed externally):
//
//	<schema>.users        (id text pk, handle text unique, created_at timestamptz)
//	<schema>.user_devices (id text pk, user_id text unique references users,
//	                       credential_id text unique, public_key bytea,
//	                       sign_count bigint, created_at timestamptz,
//	                       updated_at timestamptz)
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool { return pgIdentRE.MatchString(s) }

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "ciphertalk").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !isValidPGIdent(schema) {
			return errors.New("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed identity store.
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
		return nil, errors.New("identity: nil pool")
	}
	return st, nil
}

// UpsertUserByHandle returns the existing user for handle or creates one.
func (s *PostgresStore) UpsertUserByHandle(ctx context.Context, handle string, now time.Time) (User, error) {
	norm := NormalizeHandle(handle)
	if norm == "" {
		return User{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	users := pgIdent(s.schema, "users")

	// ON CONFLICT DO UPDATE with a no-op assignment so RETURNING always
	// yields the surviving row; the handle itself is never mutated.
	var u User
	err = s.pool.QueryRow(ctx, `
		INSERT INTO `+users+` (id, handle, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (handle) DO UPDATE SET handle = EXCLUDED.handle
		RETURNING id, handle, created_at
	`, id, norm, now).Scan(&u.ID, &u.Handle, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUserByID loads a user by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	users := pgIdent(s.schema, "users")

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, handle, created_at FROM `+users+` WHERE id = $1`,
		strings.TrimSpace(userID),
	).Scan(&u.ID, &u.Handle, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUserByHandle loads a user by normalized handle.
func (s *PostgresStore) GetUserByHandle(ctx context.Context, handle string) (User, error) {
	users := pgIdent(s.schema, "users")

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, handle, created_at FROM `+users+` WHERE handle = $1`,
		NormalizeHandle(handle),
	).Scan(&u.ID, &u.Handle, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// BindDevice enforces the single-device policy inside one transaction.
func (s *PostgresStore) BindDevice(ctx context.Context, in BindDeviceInput) (Device, error) {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.CredentialID) == "" {
		return Device{}, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	devices := pgIdent(s.schema, "user_devices")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Device{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Conflict check: the credential must not belong to a different user.
	var owner string
	err = tx.QueryRow(ctx,
		`SELECT user_id FROM `+devices+` WHERE credential_id = $1 FOR UPDATE`,
		in.CredentialID,
	).Scan(&owner)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Fresh credential.
	case err != nil:
		return Device{}, err
	case owner != in.UserID:
		return Device{}, ErrCredentialConflict
	}

	// Check-then-write under a row lock on the user's device (if any).
	var d Device
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, credential_id, public_key, sign_count, created_at, updated_at
		FROM `+devices+` WHERE user_id = $1 FOR UPDATE
	`, in.UserID).Scan(&d.ID, &d.UserID, &d.CredentialID, &d.PublicKey, &d.SignCount, &d.CreatedAt, &d.UpdatedAt)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		id, uerr := ids.NewULID(now)
		if uerr != nil {
			return Device{}, uerr
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO `+devices+` (id, user_id, credential_id, public_key, sign_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 0, $5, $5)
			RETURNING id, user_id, credential_id, public_key, sign_count, created_at, updated_at
		`, id, in.UserID, in.CredentialID, in.PublicKey, now).
			Scan(&d.ID, &d.UserID, &d.CredentialID, &d.PublicKey, &d.SignCount, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return Device{}, err
		}

	case err != nil:
		return Device{}, err

	default:
		// Device replacement: rotate the credential in place, reset counter.
		err = tx.QueryRow(ctx, `
			UPDATE `+devices+`
			SET credential_id = $2, public_key = $3, sign_count = 0, updated_at = $4
			WHERE id = $1
			RETURNING id, user_id, credential_id, public_key, sign_count, created_at, updated_at
		`, d.ID, in.CredentialID, in.PublicKey, now).
			Scan(&d.ID, &d.UserID, &d.CredentialID, &d.PublicKey, &d.SignCount, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return Device{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Device{}, err
	}
	return d, nil
}

// GetDeviceByID loads a device by id.
func (s *PostgresStore) GetDeviceByID(ctx context.Context, deviceID string) (Device, error) {
	return s.getDevice(ctx, `id = $1`, strings.TrimSpace(deviceID))
}

// GetDeviceByCredentialID loads a device by its credential id.
func (s *PostgresStore) GetDeviceByCredentialID(ctx context.Context, credentialID string) (Device, error) {
	return s.getDevice(ctx, `credential_id = $1`, strings.TrimSpace(credentialID))
}

// GetDeviceByUserID loads the user's single device.
func (s *PostgresStore) GetDeviceByUserID(ctx context.Context, userID string) (Device, error) {
	return s.getDevice(ctx, `user_id = $1`, strings.TrimSpace(userID))
}

func (s *PostgresStore) getDevice(ctx context.Context, where string, arg string) (Device, error) {
	devices := pgIdent(s.schema, "user_devices")

	var d Device
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, credential_id, public_key, sign_count, created_at, updated_at
		FROM `+devices+` WHERE `+where,
		arg,
	).Scan(&d.ID, &d.UserID, &d.CredentialID, &d.PublicKey, &d.SignCount, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, err
	}
	return d, nil
}

// UpdateSignCount persists the anti-replay counter.
func (s *PostgresStore) UpdateSignCount(ctx context.Context, deviceID string, signCount uint32, now time.Time) error {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	devices := pgIdent(s.schema, "user_devices")

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+devices+` SET sign_count = $2, updated_at = $3 WHERE id = $1`,
		deviceID, int64(signCount), now,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
