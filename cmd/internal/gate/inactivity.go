package gate

import (
	"sync"
	"time"
)

// Signal identifies which kind of user activity reset the idle timer.
type Signal string

const (
	SignalPointer Signal = "pointer"
	SignalKey     Signal = "key"
	SignalScroll  Signal = "scroll"
	SignalTouch   Signal = "touch"
)

// DefaultIdleTimeout is how long an unlocked client may stay idle before
// the gate re-locks.
const DefaultIdleTimeout = 5 * time.Minute

// Monitor watches for user inactivity while the gate is unlocked and fires
// onLock once when the idle timeout elapses. It is inert while locked:
// activity signals are ignored until Unlock is called, so a user idling on
// the puzzle screen never arms the timer.
type Monitor struct {
	mu       sync.Mutex
	idle     time.Duration
	onLock   func()
	timer    *time.Timer
	unlocked bool
	stopped  bool
}

// NewMonitor constructs a Monitor. onLock runs on the timer goroutine and
// is never invoked with the monitor's lock held.
func NewMonitor(idle time.Duration, onLock func()) *Monitor {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Monitor{idle: idle, onLock: onLock}
}

// Unlock arms the idle timer. Calling it while already unlocked resets the
// timer, same as an activity signal.
func (m *Monitor) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.unlocked = true
	m.resetLocked()
}

// Activity resets the idle timer. It is a no-op while the gate is locked.
func (m *Monitor) Activity(_ Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.unlocked || m.stopped {
		return
	}
	m.resetLocked()
}

// Locked reports whether the monitor considers the gate locked.
func (m *Monitor) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unlocked
}

// Stop disarms the timer permanently.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) resetLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.idle, m.fire)
}

func (m *Monitor) fire() {
	m.mu.Lock()
	if !m.unlocked || m.stopped {
		m.mu.Unlock()
		return
	}
	m.unlocked = false
	cb := m.onLock
	m.mu.Unlock()

	if cb != nil {
		cb()
	}
}
