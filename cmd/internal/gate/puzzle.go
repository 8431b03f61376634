// Package gate implements the unlock gate in front of the chat surface: the
// arithmetic puzzle state machine, single-use unlock tokens, the server-side
// attempt limiter, and the client-local inactivity monitor.
package gate

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Operator is the puzzle's arithmetic operator.
type Operator string

const (
	OpAdd Operator = "+"
	OpSub Operator = "-"
	OpMul Operator = "×"
)

// unlockOffset is the fixed distance between the arithmetic result and the
// value that actually unlocks. The literal arithmetic answer is a decoy.
const unlockOffset = 13

// Puzzle is a transient, never-persisted arithmetic problem. Operand ranges
// are operator-specific so subtraction never displays a negative problem.
type Puzzle struct {
	Num1     int
	Num2     int
	Operator Operator
	IssuedAt time.Time
}

// NewPuzzle draws a puzzle with a uniformly random operator.
func NewPuzzle(now time.Time) Puzzle {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var p Puzzle
	p.IssuedAt = now

	switch rand.IntN(3) {
	case 0:
		p.Operator = OpAdd
		p.Num1 = 10 + rand.IntN(50) // 10-59
		p.Num2 = 10 + rand.IntN(50) // 10-59
	case 1:
		p.Operator = OpSub
		p.Num1 = 30 + rand.IntN(50) // 30-79
		p.Num2 = 10 + rand.IntN(20) // 10-29
	default:
		p.Operator = OpMul
		p.Num1 = 2 + rand.IntN(12) // 2-13
		p.Num2 = 2 + rand.IntN(12) // 2-13
	}
	return p
}

// Actual returns the arithmetic result of the displayed problem.
func (p Puzzle) Actual() int {
	switch p.Operator {
	case OpAdd:
		return p.Num1 + p.Num2
	case OpSub:
		return p.Num1 - p.Num2
	case OpMul:
		return p.Num1 * p.Num2
	default:
		return 0
	}
}

// Target returns the value that unlocks: the arithmetic result plus the
// fixed offset.
func (p Puzzle) Target() int {
	return p.Actual() + unlockOffset
}

// State is the gate's access state.
type State uint8

const (
	// StateIssued means a puzzle is outstanding and chat is locked.
	StateIssued State = iota
	// StateUnlocked is terminal for one unlock cycle.
	StateUnlocked
)

// Outcome classifies one answer submission.
type Outcome uint8

const (
	// OutcomeUnlocked: the submission matched actual+offset.
	OutcomeUnlocked Outcome = iota
	// OutcomeDecoy: the submission matched the plain arithmetic result.
	// Feedback says "Correct answer!" but the gate stays locked and a fresh
	// puzzle replaces the current one after the feedback delay.
	OutcomeDecoy
	// OutcomeWrong: any other integer. The same puzzle stays active.
	OutcomeWrong
	// OutcomeRejected: non-numeric input, no state change at all.
	OutcomeRejected
	// OutcomeExpired: the puzzle aged out; a fresh one is issued.
	OutcomeExpired
)

const (
	// FeedbackDecoy and FeedbackWrong are the transient user-visible strings.
	FeedbackDecoy = "Correct answer!"
	FeedbackWrong = "Wrong answer"

	defaultFeedbackDelay = time.Second
	defaultMaxPuzzleAge  = 2 * time.Minute
)

// Gate is the client-local puzzle state machine for one unlock attempt.
//
// Concurrency: all methods are safe for concurrent use; the feedback/reissue
// timers fire on their own goroutine and take the same lock.
type Gate struct {
	mu            sync.Mutex
	state         State
	puzzle        Puzzle
	feedback      string
	feedbackDelay time.Duration
	maxPuzzleAge  time.Duration
	pending       *time.Timer
	stopped       bool
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithFeedbackDelay overrides how long transient feedback stays visible
// (and how long a decoy waits before reissuing the puzzle).
func WithFeedbackDelay(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.feedbackDelay = d
		}
	}
}

// WithMaxPuzzleAge overrides the age after which a puzzle is rejected.
func WithMaxPuzzleAge(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.maxPuzzleAge = d
		}
	}
}

// NewGate constructs a locked gate with a freshly issued puzzle.
func NewGate(now time.Time, opts ...GateOption) *Gate {
	g := &Gate{
		state:         StateIssued,
		puzzle:        NewPuzzle(now),
		feedbackDelay: defaultFeedbackDelay,
		maxPuzzleAge:  defaultMaxPuzzleAge,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// State returns the current access state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Puzzle returns the currently displayed puzzle.
func (g *Gate) Puzzle() Puzzle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.puzzle
}

// Feedback returns the transient feedback string ("" when cleared).
func (g *Gate) Feedback() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.feedback
}

// Submit evaluates one answer at time now.
//
// Transitions:
//   - raw == target (actual+offset): Issued -> Unlocked (terminal).
//   - raw == actual: Issued -> Issued with a fresh puzzle after the delay.
//   - other integer: Issued -> Issued, same puzzle.
//   - non-numeric: rejected locally, no transition.
func (g *Gate) Submit(raw string, now time.Time) Outcome {
	answer, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return OutcomeRejected
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateUnlocked {
		return OutcomeUnlocked
	}

	// Stale puzzles never unlock, regardless of the answer.
	if now.Sub(g.puzzle.IssuedAt) > g.maxPuzzleAge {
		g.puzzle = NewPuzzle(now)
		g.clearPendingLocked()
		g.feedback = ""
		return OutcomeExpired
	}

	switch answer {
	case g.puzzle.Target():
		g.state = StateUnlocked
		g.clearPendingLocked()
		g.feedback = ""
		return OutcomeUnlocked

	case g.puzzle.Actual():
		g.feedback = FeedbackDecoy
		g.scheduleLocked(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.state != StateIssued {
				return
			}
			g.puzzle = NewPuzzle(time.Now().UTC())
			g.feedback = ""
		})
		return OutcomeDecoy

	default:
		g.feedback = FeedbackWrong
		g.scheduleLocked(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.feedback = ""
		})
		return OutcomeWrong
	}
}

// Relock returns an unlocked gate to Issued with a fresh puzzle
// (the inactivity monitor's re-lock path).
func (g *Gate) Relock(now time.Time) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = StateIssued
	g.puzzle = NewPuzzle(now)
	g.feedback = ""
	g.clearPendingLocked()
}

// Stop cancels any pending feedback/reissue timer.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	g.clearPendingLocked()
}

// setPuzzle is a test hook; callers hold no lock.
func (g *Gate) setPuzzle(p Puzzle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.puzzle = p
}

func (g *Gate) scheduleLocked(fn func()) {
	g.clearPendingLocked()
	if g.stopped {
		return
	}
	g.pending = time.AfterFunc(g.feedbackDelay, fn)
}

func (g *Gate) clearPendingLocked() {
	if g.pending != nil {
		g.pending.Stop()
		g.pending = nil
	}
}
