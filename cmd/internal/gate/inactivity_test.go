package gate

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestMonitor_LocksAfterIdle(t *testing.T) {
	t.Parallel()

	var locks atomic.Int32
	m := NewMonitor(20*time.Millisecond, func() { locks.Add(1) })
	defer m.Stop()

	if !m.Locked() {
		t.Fatalf("monitor must start locked")
	}

	m.Unlock()
	if m.Locked() {
		t.Fatalf("monitor must report unlocked after Unlock")
	}

	waitFor(t, time.Second, func() bool { return locks.Load() == 1 })
	if !m.Locked() {
		t.Fatalf("monitor must report locked after idle timeout")
	}

	// Firing is edge-triggered: no second callback without another Unlock.
	time.Sleep(60 * time.Millisecond)
	if got := locks.Load(); got != 1 {
		t.Fatalf("onLock fired %d times, want 1", got)
	}
}

func TestMonitor_ActivityResetsTimer(t *testing.T) {
	t.Parallel()

	var locks atomic.Int32
	m := NewMonitor(50*time.Millisecond, func() { locks.Add(1) })
	defer m.Stop()

	m.Unlock()
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		m.Activity(SignalPointer)
	}
	if got := locks.Load(); got != 0 {
		t.Fatalf("activity within the window must prevent locking, fired %d", got)
	}

	waitFor(t, time.Second, func() bool { return locks.Load() == 1 })
}

func TestMonitor_ActivityWhileLockedIsNoop(t *testing.T) {
	t.Parallel()

	var locks atomic.Int32
	m := NewMonitor(20*time.Millisecond, func() { locks.Add(1) })
	defer m.Stop()

	// Signals before Unlock must not arm the timer.
	m.Activity(SignalKey)
	m.Activity(SignalScroll)
	time.Sleep(60 * time.Millisecond)
	if got := locks.Load(); got != 0 {
		t.Fatalf("locked monitor must ignore activity, fired %d", got)
	}
}

func TestMonitor_StopDisarms(t *testing.T) {
	t.Parallel()

	var locks atomic.Int32
	m := NewMonitor(20*time.Millisecond, func() { locks.Add(1) })

	m.Unlock()
	m.Stop()
	time.Sleep(60 * time.Millisecond)
	if got := locks.Load(); got != 0 {
		t.Fatalf("stopped monitor must not fire, fired %d", got)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
