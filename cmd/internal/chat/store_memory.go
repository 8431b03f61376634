package chat

import (
	"context"
	crand "crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"ciphertalk/cmd/internal/observability/metrics"
)

// InMemoryLog is a MessageLog for tests and single-process deployments.
//
// IDs come from a monotonic ULID source guarded by the store lock, so ID
// order always equals append order even within one millisecond.
type InMemoryLog struct {
	mu       sync.Mutex
	messages []Message
	entropy  *ulid.MonotonicEntropy
}

// NewInMemoryLog constructs an empty InMemoryLog.
func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{
		entropy: ulid.Monotonic(crand.Reader, 0),
	}
}

// Append validates, assigns an ID and stores the message.
func (s *InMemoryLog) Append(_ context.Context, in AppendInput) (Message, error) {
	msg, err := buildMessage(in)
	if err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Commit order decides CreatedAt order: a timestamp taken before the
	// lock may lag a message that committed first, which would break the
	// (created_at, id) sort the slice order stands for.
	if n := len(s.messages); n > 0 && msg.CreatedAt.Before(s.messages[n-1].CreatedAt) {
		msg.CreatedAt = s.messages[n-1].CreatedAt
	}

	id, err := ulid.New(ulid.Timestamp(msg.CreatedAt), s.entropy)
	if err != nil {
		return Message{}, err
	}
	msg.ID = id.String()
	s.messages = append(s.messages, msg)

	metrics.MessagesStoredTotal.Inc()
	return msg, nil
}

// List returns non-ephemeral messages oldest-first, paged by either cursor.
func (s *InMemoryLog) List(_ context.Context, in ListInput) ([]Message, error) {
	if strings.TrimSpace(in.ThreadID) == "" {
		return nil, ErrInvalidInput
	}
	limit := clampHistoryLimit(in.Limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !in.Before.IsZero() {
		// Backward page: walk newest-first, then restore oldest-first.
		out := make([]Message, 0, limit)
		for i := len(s.messages) - 1; i >= 0; i-- {
			m := s.messages[i]
			if m.ThreadID != in.ThreadID || m.Ephemeral {
				continue
			}
			if !m.CreatedAt.Before(in.Before) {
				continue
			}
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out, nil
	}

	out := make([]Message, 0, limit)
	for _, m := range s.messages {
		if m.ThreadID != in.ThreadID || m.Ephemeral {
			continue
		}
		if in.AfterID != "" && m.ID <= in.AfterID {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *InMemoryLog) Close() error { return nil }

// buildMessage validates input and fills everything but the ID.
func buildMessage(in AppendInput) (Message, error) {
	threadID := strings.TrimSpace(in.ThreadID)
	senderID := strings.TrimSpace(in.SenderID)
	body := in.Body
	if threadID == "" || senderID == "" || strings.TrimSpace(body) == "" {
		return Message{}, ErrInvalidInput
	}
	if len([]rune(body)) > maxMessageChars {
		return Message{}, ErrMessageTooLong
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return Message{
		ThreadID:     threadID,
		SenderID:     senderID,
		SenderHandle: strings.TrimSpace(in.SenderHandle),
		Body:         body,
		Nonce:        in.Nonce,
		Header:       in.Header,
		CreatedAt:    now,
		Ephemeral:    in.Ephemeral,
	}, nil
}
