package gate

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTokenStore is a TokenStore backed by PostgreSQL.
//
// Expected schema (managed externally):
//
//	<schema>.unlock_tokens (token_hash text pk, device_id text, expires_at timestamptz)
//
// Consume is a single conditional DELETE, so atomic single-use holds without
// explicit locking: concurrent consumers race on the row and exactly one
// DELETE reports an affected row.
type PostgresTokenStore struct {
	pool   *pgxpool.Pool
	schema string
}

var tokenPGIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func tokenPGIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// PostgresTokenOption configures PostgresTokenStore behavior.
type PostgresTokenOption func(*PostgresTokenStore) error

// WithTokenSchema sets the DB schema used by this store (default: "ciphertalk").
func WithTokenSchema(schema string) PostgresTokenOption {
	return func(s *PostgresTokenStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !tokenPGIdentRE.MatchString(schema) {
			return errors.New("gate: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresTokenStore constructs a Postgres-backed unlock token store.
func NewPostgresTokenStore(pool *pgxpool.Pool, opts ...PostgresTokenOption) (*PostgresTokenStore, error) {
	st := &PostgresTokenStore{pool: pool, schema: "ciphertalk"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("gate: nil pool")
	}
	return st, nil
}

// Put stores a token record by hash.
func (s *PostgresTokenStore) Put(ctx context.Context, tok UnlockToken) error {
	if strings.TrimSpace(tok.TokenHash) == "" || strings.TrimSpace(tok.DeviceID) == "" {
		return ErrInvalidInput
	}

	table := tokenPGIdent(s.schema, "unlock_tokens")
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+table+` (token_hash, device_id, expires_at)
		VALUES ($1, $2, $3)
	`, tok.TokenHash, tok.DeviceID, tok.ExpiresAt)
	return err
}

// Consume deletes the token if it matches deviceID and has not expired.
func (s *PostgresTokenStore) Consume(ctx context.Context, tokenHash, deviceID string, now time.Time) error {
	table := tokenPGIdent(s.schema, "unlock_tokens")
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM `+table+`
		WHERE token_hash = $1 AND device_id = $2 AND expires_at > $3
	`, tokenHash, deviceID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrTokenNotFound
	}
	return nil
}
