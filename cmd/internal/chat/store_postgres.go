package chat

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ciphertalk/cmd/identity/ids"
	"ciphertalk/cmd/internal/observability/metrics"
)

// PostgresLog is a MessageLog backed by PostgreSQL.
//
// Expected schema (managed externally):
//
//	<schema>.threads (id text pk)
//	<schema>.messages (id text pk, thread_id text, sender_id text,
//	    sender_handle text, body text, nonce text, header text,
//	    ephemeral bool, created_at timestamptz)
//
// Ownership model: the pgx pool belongs to the caller, Close is a no-op.
type PostgresLog struct {
	pool   *pgxpool.Pool
	schema string
}

var chatPGIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func chatPGIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// PostgresOption configures PostgresLog behavior.
type PostgresOption func(*PostgresLog) error

// WithSchema sets the DB schema used by this log (default: "ciphertalk").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresLog) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !chatPGIdentRE.MatchString(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresLog constructs a Postgres-backed MessageLog.
func NewPostgresLog(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresLog, error) {
	st := &PostgresLog{pool: pool, schema: "ciphertalk"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresLog) Close() error { return nil }

// Append validates, assigns a ULID and inserts the message. The thread row
// is created lazily on first use.
func (s *PostgresLog) Append(ctx context.Context, in AppendInput) (Message, error) {
	msg, err := buildMessage(in)
	if err != nil {
		return Message{}, err
	}

	id, err := ids.NewULID(msg.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	msg.ID = id

	threads := chatPGIdent(s.schema, "threads")
	messages := chatPGIdent(s.schema, "messages")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+threads+` (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		msg.ThreadID,
	); err != nil {
		return Message{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO `+messages+` (
		    id, thread_id, sender_id, sender_handle, body, nonce, header, ephemeral, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, msg.ID, msg.ThreadID, msg.SenderID, msg.SenderHandle,
		msg.Body, msg.Nonce, msg.Header, msg.Ephemeral, msg.CreatedAt,
	); err != nil {
		return Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}

	metrics.MessagesStoredTotal.Inc()
	return msg, nil
}

// List returns non-ephemeral messages oldest-first, ordered by
// (created_at, id), optionally after an ID.
func (s *PostgresLog) List(ctx context.Context, in ListInput) ([]Message, error) {
	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		return nil, ErrInvalidInput
	}
	limit := clampHistoryLimit(in.Limit)

	messages := chatPGIdent(s.schema, "messages")

	var (
		rows pgx.Rows
		err  error
	)
	if !in.Before.IsZero() {
		// Backward page: fetch the newest matching rows, restore
		// oldest-first order in memory.
		rows, err = s.pool.Query(ctx, `
			SELECT id, thread_id, sender_id, sender_handle, body, nonce, header, ephemeral, created_at
			  FROM `+messages+`
			 WHERE thread_id = $1 AND NOT ephemeral AND created_at < $2
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3
		`, threadID, in.Before, limit)
		if err != nil {
			return nil, err
		}
		out, err := scanMessages(rows, limit)
		if err != nil {
			return nil, err
		}
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out, nil
	}
	if in.AfterID == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT id, thread_id, sender_id, sender_handle, body, nonce, header, ephemeral, created_at
			  FROM `+messages+`
			 WHERE thread_id = $1 AND NOT ephemeral
			 ORDER BY created_at ASC, id ASC
			 LIMIT $2
		`, threadID, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, thread_id, sender_id, sender_handle, body, nonce, header, ephemeral, created_at
			  FROM `+messages+`
			 WHERE thread_id = $1 AND NOT ephemeral AND id > $2
			 ORDER BY created_at ASC, id ASC
			 LIMIT $3
		`, threadID, in.AfterID, limit)
	}
	if err != nil {
		return nil, err
	}
	return scanMessages(rows, limit)
}

func scanMessages(rows pgx.Rows, limit int) ([]Message, error) {
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.ThreadID, &m.SenderID, &m.SenderHandle,
			&m.Body, &m.Nonce, &m.Header, &m.Ephemeral, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
