// Package chat contains the message log, the push+poll fanout, and the
// stream gateways (SSE and WebSocket) for the single global thread.
package chat

import "time"

// DefaultThreadID is the single global thread every client lands in.
const DefaultThreadID = "global-chat-room"

// Message is the canonical persisted message representation. Body holds the
// payload as received; the server treats it as an opaque ciphertext and
// never inspects it. Nonce and Header carry whatever envelope material the
// client encryption layer attaches.
type Message struct {
	ID           string
	ThreadID     string
	SenderID     string
	SenderHandle string
	Body         string
	Nonce        string
	Header       string
	CreatedAt    time.Time
	Ephemeral    bool
}

// FrameType discriminates stream frames.
type FrameType string

const (
	FrameConnected FrameType = "connected"
	FrameMessage   FrameType = "message"
	FrameError     FrameType = "error"
)

// Frame is the unit written to a stream subscriber (SSE event or WebSocket
// text message).
type Frame struct {
	Type    FrameType    `json:"type"`
	Message *WireMessage `json:"message,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// WireMessage is the client-facing message shape.
type WireMessage struct {
	ID           string    `json:"id"`
	Body         string    `json:"body"`
	SenderID     string    `json:"senderId"`
	SenderHandle string    `json:"senderHandle"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Wire converts a stored message to its client-facing shape.
func (m Message) Wire() WireMessage {
	return WireMessage{
		ID:           m.ID,
		Body:         m.Body,
		SenderID:     m.SenderID,
		SenderHandle: m.SenderHandle,
		CreatedAt:    m.CreatedAt,
	}
}
