package chat

import "sync"

// Subscriber represents one connected stream consumer (SSE or WebSocket).
//
// Design notes:
//   - Send is intentionally NOT closed by the fanout to avoid panics from
//     concurrent broadcasters. done signals teardown instead.
//   - lastSeenID is the delivery cursor. Only the poll path advances it,
//     because the poll reads the log in order; a push-advanced cursor could
//     jump past a message whose own push was dropped and lose it forever.
//   - pushed holds message IDs delivered by push but not yet swept by the
//     poll. The sweep confirms them (advancing the cursor) without
//     re-sending, so delivery stays at-least-once and normally exactly-once.
type Subscriber struct {
	ID       string
	ThreadID string
	Send     chan Frame

	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	lastSeenID string
	pushed     map[string]bool
}

func newSubscriber(id, threadID, afterID string, queueSize int) *Subscriber {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	return &Subscriber{
		ID:         id,
		ThreadID:   threadID,
		Send:       make(chan Frame, queueSize),
		done:       make(chan struct{}),
		lastSeenID: afterID,
		pushed:     make(map[string]bool),
	}
}

// Done returns a channel that is closed when the subscriber is shutting down.
func (s *Subscriber) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Close signals teardown (idempotent). It does NOT close Send to keep
// broadcast safe under concurrency.
func (s *Subscriber) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// offer enqueues msg on the push path without blocking and reports whether
// it was delivered now. Messages already confirmed or already on the wire
// are skipped. The cursor is never touched here: a dropped push must stay
// recoverable by the poll loop. Ephemeral messages are fire-and-forget, they
// are absent from the log and leave no delivery state behind.
func (s *Subscriber) offer(msg Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	frame := Frame{Type: FrameMessage, Message: ptr(msg.Wire())}

	if msg.Ephemeral {
		select {
		case s.Send <- frame:
			return true
		default:
			return false
		}
	}

	if msg.ID <= s.lastSeenID || s.pushed[msg.ID] {
		return false
	}

	select {
	case s.Send <- frame:
		s.pushed[msg.ID] = true
		return true
	default:
		return false
	}
}

// emit enqueues msg on the poll path, advancing the cursor in log order.
// A message the push already delivered is confirmed without re-sending.
// ok=false means the queue is full; the caller must stop emitting there so
// the cursor never moves past an undelivered message.
func (s *Subscriber) emit(msg Message) (delivered, ok bool) {
	select {
	case <-s.done:
		return false, false
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID <= s.lastSeenID {
		delete(s.pushed, msg.ID)
		return false, true
	}

	if s.pushed[msg.ID] {
		s.lastSeenID = msg.ID
		delete(s.pushed, msg.ID)
		return false, true
	}

	select {
	case s.Send <- Frame{Type: FrameMessage, Message: ptr(msg.Wire())}:
		s.lastSeenID = msg.ID
		return true, true
	default:
		return false, false
	}
}

func (s *Subscriber) cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeenID
}

func ptr[T any](v T) *T { return &v }
