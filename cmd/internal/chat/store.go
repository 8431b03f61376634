package chat

import (
	"context"
	"time"
)

// AppendInput describes a message append request.
type AppendInput struct {
	ThreadID     string
	SenderID     string
	SenderHandle string
	Body         string
	Nonce        string
	Header       string
	Ephemeral    bool
	Now          time.Time
}

// ListInput describes a history query. AfterID pages forward: only messages
// with an ID strictly greater are returned. Message IDs are ULIDs, so
// lexicographic ID order is creation order with the ID as tie-break.
// Before pages backward: the newest Limit messages with CreatedAt strictly
// before it are returned, still oldest-first. The next page cursor is the
// CreatedAt of the oldest returned message. AfterID and Before are
// alternative cursors; Before takes precedence when both are set.
type ListInput struct {
	ThreadID string
	AfterID  string
	Before   time.Time
	Limit    int
}

// MessageLog persists and queries messages.
//
// Requirements:
//   - Append assigns the ID and is the durability point: a message is
//     only broadcast after Append returns.
//   - List returns oldest-first, ordered by (created_at, id).
type MessageLog interface {
	Append(ctx context.Context, in AppendInput) (Message, error)
	List(ctx context.Context, in ListInput) ([]Message, error)
	Close() error
}

func clampHistoryLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
