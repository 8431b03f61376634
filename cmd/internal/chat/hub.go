package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ciphertalk/cmd/internal/observability/metrics"
)

// Fanout owns the subscriber registry and implements at-least-once delivery:
// a best-effort non-blocking push on broadcast, backed by a per-subscriber
// poll loop that re-reads the durable log from the subscriber's cursor.
// Durability always precedes fanout; callers broadcast only after Append
// has returned.
type Fanout struct {
	log   *slog.Logger
	store MessageLog

	pollInterval time.Duration
	queueSize    int

	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// FanoutOption configures a Fanout.
type FanoutOption func(*Fanout)

// WithPollInterval overrides the poll fallback cadence.
func WithPollInterval(d time.Duration) FanoutOption {
	return func(f *Fanout) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithSendQueueSize overrides the per-subscriber push queue length.
func WithSendQueueSize(n int) FanoutOption {
	return func(f *Fanout) {
		if n > 0 {
			f.queueSize = n
		}
	}
}

// NewFanout constructs a Fanout over the given log.
func NewFanout(store MessageLog, log *slog.Logger, opts ...FanoutOption) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	f := &Fanout{
		log:          log,
		store:        store,
		pollInterval: defaultPollInterval,
		queueSize:    defaultSendQueueSize,
		subs:         make(map[string]*Subscriber),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Subscribe registers a stream consumer for threadID and starts its poll
// loop. afterID seeds the delivery cursor: "" replays the whole history,
// a message ID resumes after it. The caller must Unsubscribe when done.
func (f *Fanout) Subscribe(ctx context.Context, threadID, afterID string) *Subscriber {
	sub := newSubscriber(uuid.NewString(), threadID, afterID, f.queueSize)

	f.mu.Lock()
	f.subs[sub.ID] = sub
	f.mu.Unlock()

	metrics.FanoutSubscribers.Inc()
	f.log.Info("fanout.subscribe", "subscriber_id", sub.ID, "thread_id", threadID)

	go f.pollLoop(ctx, sub)
	return sub
}

// Unsubscribe removes the subscriber and signals its teardown (idempotent
// for subscribers already removed).
func (f *Fanout) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	f.mu.Lock()
	_, present := f.subs[sub.ID]
	delete(f.subs, sub.ID)
	f.mu.Unlock()

	// Signal after removal so broadcasters never hold a closing subscriber.
	sub.Close()

	if present {
		metrics.FanoutSubscribers.Dec()
		f.log.Info("fanout.unsubscribe", "subscriber_id", sub.ID, "thread_id", sub.ThreadID)
	}
}

// Broadcast pushes msg to every subscriber of its thread. Non-blocking: a
// full queue drops the push and the subscriber's poll loop re-delivers from
// the log.
func (f *Fanout) Broadcast(msg Message) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, sub := range f.subs {
		if sub.ThreadID != msg.ThreadID {
			continue
		}
		if sub.offer(msg) {
			metrics.FanoutPushesTotal.WithLabelValues("delivered").Inc()
		} else {
			metrics.FanoutPushesTotal.WithLabelValues("dropped").Inc()
		}
	}
}

// pollLoop re-reads the log from the subscriber's cursor once per interval,
// emits anything the push path missed and confirms what it delivered. The
// sweep runs in log order and stops at a full queue, so the cursor can never
// move past an undelivered durable message.
func (f *Fanout) pollLoop(ctx context.Context, sub *Subscriber) {
	t := time.NewTicker(f.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-t.C:
		}

		msgs, err := f.store.List(ctx, ListInput{
			ThreadID: sub.ThreadID,
			AfterID:  sub.cursor(),
			Limit:    maxHistoryLimit,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.log.Warn("fanout.poll.list", "subscriber_id", sub.ID, "error", err)
			continue
		}

		for _, m := range msgs {
			delivered, ok := sub.emit(m)
			if !ok {
				break
			}
			if delivered {
				metrics.FanoutPollEmitsTotal.Inc()
			}
		}
	}
}
