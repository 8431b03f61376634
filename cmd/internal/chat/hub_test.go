package chat

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func collect(t *testing.T, sub *Subscriber, want int, timeout time.Duration) []WireMessage {
	t.Helper()

	got := make([]WireMessage, 0, want)
	deadline := time.After(timeout)
	for len(got) < want {
		select {
		case frame := <-sub.Send:
			if frame.Type != FrameMessage || frame.Message == nil {
				t.Fatalf("unexpected frame: %+v", frame)
			}
			got = append(got, *frame.Message)
		case <-deadline:
			t.Fatalf("timed out waiting for messages: got %d want %d", len(got), want)
		}
	}
	return got
}

func TestFanout_PushDelivery(t *testing.T) {
	t.Parallel()

	log := NewInMemoryLog()
	f := NewFanout(log, discardLogger(), WithPollInterval(time.Hour)) // push only
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := f.Subscribe(ctx, DefaultThreadID, "")
	defer f.Unsubscribe(sub)

	msg, err := log.Append(ctx, AppendInput{
		ThreadID: DefaultThreadID, SenderID: "dev-1", Body: "hello",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	f.Broadcast(msg)

	got := collect(t, sub, 1, time.Second)
	if got[0].ID != msg.ID || got[0].Body != "hello" {
		t.Fatalf("got %+v want id=%s", got[0], msg.ID)
	}
}

func TestFanout_PollRecoversDroppedPush(t *testing.T) {
	t.Parallel()

	log := NewInMemoryLog()
	f := NewFanout(log, discardLogger(),
		WithPollInterval(20*time.Millisecond),
		WithSendQueueSize(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := f.Subscribe(ctx, DefaultThreadID, "")
	defer f.Unsubscribe(sub)

	// Three broadcasts against a queue of one: pushes beyond the first are
	// dropped and must come back through the poll loop.
	var want []string
	for _, b := range []string{"a", "b", "c"} {
		msg, err := log.Append(ctx, AppendInput{
			ThreadID: DefaultThreadID, SenderID: "dev-1", Body: b,
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		want = append(want, msg.ID)
		f.Broadcast(msg)
	}

	got := collect(t, sub, 3, 2*time.Second)
	for i, m := range got {
		if m.ID != want[i] {
			t.Fatalf("position %d: got=%s want=%s (order must survive re-delivery)", i, m.ID, want[i])
		}
	}

	// No duplicates afterwards: the cursor advanced past all three.
	select {
	case frame := <-sub.Send:
		t.Fatalf("unexpected extra frame: %+v", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFanout_DroppedPushSurvivesLaterDelivery(t *testing.T) {
	t.Parallel()

	log := NewInMemoryLog()
	f := NewFanout(log, discardLogger(),
		WithPollInterval(20*time.Millisecond),
		WithSendQueueSize(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := f.Subscribe(ctx, DefaultThreadID, "")
	defer f.Unsubscribe(sub)

	store := func(body string) Message {
		t.Helper()
		msg, err := log.Append(ctx, AppendInput{
			ThreadID: DefaultThreadID, SenderID: "dev-1", Body: body,
		})
		if err != nil {
			t.Fatalf("Append(%q): %v", body, err)
		}
		return msg
	}

	// Fill the queue, then drop a push against it. Draining one frame and
	// pushing again must not let the cursor jump over the dropped message.
	filler := store("filler")
	f.Broadcast(filler)

	a := store("a")
	f.Broadcast(a) // queue full, dropped

	first := collect(t, sub, 1, time.Second)
	if first[0].ID != filler.ID {
		t.Fatalf("first frame: got=%s want=%s", first[0].ID, filler.ID)
	}

	b := store("b")
	f.Broadcast(b)

	// Both the dropped and the later message must arrive, each exactly once.
	rest := collect(t, sub, 2, 2*time.Second)
	seen := map[string]int{}
	for _, m := range rest {
		seen[m.ID]++
	}
	if seen[a.ID] != 1 || seen[b.ID] != 1 {
		t.Fatalf("delivery counts: a=%d b=%d (want 1 each)", seen[a.ID], seen[b.ID])
	}

	select {
	case frame := <-sub.Send:
		t.Fatalf("unexpected extra frame: %+v", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFanout_SubscriberMissesPushGetsPolled(t *testing.T) {
	t.Parallel()

	log := NewInMemoryLog()
	f := NewFanout(log, discardLogger(), WithPollInterval(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Message stored before the subscriber exists: only the poll loop can
	// deliver it.
	msg, err := log.Append(ctx, AppendInput{
		ThreadID: DefaultThreadID, SenderID: "dev-1", Body: "early",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	f.Broadcast(msg)

	sub := f.Subscribe(ctx, DefaultThreadID, "")
	defer f.Unsubscribe(sub)

	got := collect(t, sub, 1, 2*time.Second)
	if got[0].ID != msg.ID {
		t.Fatalf("got=%s want=%s", got[0].ID, msg.ID)
	}
}

func TestFanout_ResumeAfterCursor(t *testing.T) {
	t.Parallel()

	log := NewInMemoryLog()
	f := NewFanout(log, discardLogger(), WithPollInterval(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stored := appendN(t, log, "a", "b", "c")

	// Resume after the first message: only b and c may arrive.
	sub := f.Subscribe(ctx, DefaultThreadID, stored[0].ID)
	defer f.Unsubscribe(sub)

	got := collect(t, sub, 2, 2*time.Second)
	if got[0].ID != stored[1].ID || got[1].ID != stored[2].ID {
		t.Fatalf("resume delivered wrong window: %+v", got)
	}
}

func TestFanout_ThreadIsolation(t *testing.T) {
	t.Parallel()

	log := NewInMemoryLog()
	f := NewFanout(log, discardLogger(), WithPollInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := f.Subscribe(ctx, "other-thread", "")
	defer f.Unsubscribe(sub)

	msg, err := log.Append(ctx, AppendInput{
		ThreadID: DefaultThreadID, SenderID: "dev-1", Body: "hello",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	f.Broadcast(msg)

	select {
	case frame := <-sub.Send:
		t.Fatalf("cross-thread frame: %+v", frame)
	case <-time.After(100 * time.Millisecond):
	}
}
