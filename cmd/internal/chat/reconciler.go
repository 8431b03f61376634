package chat

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// pendingIDPrefix marks optimistic placeholders so they can never collide
// with server-assigned ULIDs.
const pendingIDPrefix = "pending-"

// Reconciler merges a client's optimistic sends with the confirmed stream.
// With both the push and poll paths feeding ApplyConfirmed, delivery is
// at-least-once on the wire but exactly-once in the view: duplicates are
// dropped by ID, and a confirmed message replaces its matching placeholder
// in place so the list never shows the same message twice.
type Reconciler struct {
	mu       sync.Mutex
	messages []WireMessage
	seen     map[string]struct{}
}

// NewReconciler constructs an empty Reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{seen: make(map[string]struct{})}
}

// AddOptimistic appends a placeholder for a just-sent message and returns
// its temporary ID.
func (r *Reconciler) AddOptimistic(senderID, body string) string {
	id := pendingIDPrefix + uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, WireMessage{
		ID:       id,
		SenderID: senderID,
		Body:     body,
	})
	return id
}

// ApplyConfirmed folds a server-confirmed message into the view.
// Already-seen IDs are dropped. A placeholder from the same sender with the
// same body is upgraded in place; otherwise the message is appended.
func (r *Reconciler) ApplyConfirmed(msg WireMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.seen[msg.ID]; dup {
		return
	}
	r.seen[msg.ID] = struct{}{}

	for i, m := range r.messages {
		if isPending(m.ID) && m.SenderID == msg.SenderID && m.Body == msg.Body {
			r.messages[i] = msg
			return
		}
	}
	r.messages = append(r.messages, msg)
}

// Messages returns a copy of the current ordered view.
func (r *Reconciler) Messages() []WireMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]WireMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

// Pending reports how many placeholders are still unconfirmed.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, m := range r.messages {
		if isPending(m.ID) {
			n++
		}
	}
	return n
}

func isPending(id string) bool {
	return strings.HasPrefix(id, pendingIDPrefix)
}
