package chat

import "time"

// Size and pacing limits.
const (
	// Max message body length (runes). Bodies are opaque ciphertext, so this
	// bounds storage, not plaintext length.
	maxMessageChars = 8000

	// Max bytes per request body on the message endpoints.
	maxBodyBytes = 64 << 10 // 64 KiB

	// History paging bounds.
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

const (
	// Poll cadence of the per-subscriber fallback loop.
	defaultPollInterval = time.Second

	// Per-subscriber push queue. Overflow falls back to the poll loop, which
	// re-reads from the durable log, so dropping here loses nothing.
	defaultSendQueueSize = 64
)
