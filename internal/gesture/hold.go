// Package gesture implements the press-and-hold delete confirmation: a delete
// commits only after a sustained hold and can be cancelled at any point.
package gesture

import (
	"sync"
	"time"
)

type State int

const (
	Idle State = iota
	Holding
	Committed
)

const (
	DefaultHoldDuration = 1000 * time.Millisecond
	DefaultTickInterval = 50 * time.Millisecond
)

// Machine tracks one hold gesture. The hold timer and the progress ticker are
// guarded by a monotonically incrementing gesture token: a stale timer or tick
// firing after cancel compares its token and no-ops. Callers must check that
// the message belongs to the current user before starting a hold; that
// authorization is a precondition, not a state.
type Machine struct {
	mu           sync.Mutex
	holdDuration time.Duration
	tickInterval time.Duration
	onCommit     func(messageID string)

	state     State
	token     uint64
	target    string
	startedAt time.Time
	progress  float64
	timer     *time.Timer
	ticker    *time.Ticker
}

// NewMachine creates a machine. onCommit is invoked exactly once per completed
// hold, with the held message's ID; its outcome does not affect the gesture.
func NewMachine(holdDuration, tickInterval time.Duration, onCommit func(messageID string)) *Machine {
	if holdDuration <= 0 {
		holdDuration = DefaultHoldDuration
	}
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	return &Machine{
		holdDuration: holdDuration,
		tickInterval: tickInterval,
		onCommit:     onCommit,
	}
}

// Press starts a hold on the given message. A press while already holding is
// ignored.
func (m *Machine) Press(messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Holding {
		return
	}
	m.token++
	tok := m.token
	m.state = Holding
	m.target = messageID
	m.startedAt = time.Now()
	m.progress = 0
	m.timer = time.AfterFunc(m.holdDuration, func() { m.fire(tok) })
	m.ticker = time.NewTicker(m.tickInterval)
	go m.runTicker(m.ticker, tok)
}

// Cancel aborts the hold: progress resets to 0 and no delete occurs. Safe to
// call multiple times and from release or pointer-leave alike.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Holding {
		return
	}
	m.token++ // invalidates the in-flight timer and ticker
	m.stopTimersLocked()
	m.state = Idle
	m.target = ""
	m.progress = 0
}

// Snapshot returns the current state and progress fraction in [0,1].
func (m *Machine) Snapshot() (State, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.progress
}

func (m *Machine) runTicker(t *time.Ticker, tok uint64) {
	for range t.C {
		if !m.tick(tok) {
			return
		}
	}
}

// tick advances progress linearly; returns false once the gesture the ticker
// belongs to is gone.
func (m *Machine) tick(tok uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != tok || m.state != Holding {
		return false
	}
	frac := float64(time.Since(m.startedAt)) / float64(m.holdDuration)
	if frac > 1 {
		frac = 1
	}
	m.progress = frac
	return true
}

// fire runs when the hold timer elapses. The gesture always completes
// visually: the commit callback's outcome is not consulted before resetting.
func (m *Machine) fire(tok uint64) {
	m.mu.Lock()
	if m.token != tok || m.state != Holding {
		m.mu.Unlock()
		return
	}
	m.token++
	reset := m.token
	m.stopTimersLocked()
	m.state = Committed
	m.progress = 1
	target := m.target
	commit := m.onCommit
	m.mu.Unlock()

	if commit != nil {
		commit(target)
	}

	m.mu.Lock()
	if m.token == reset && m.state == Committed {
		m.state = Idle
		m.target = ""
		m.progress = 0
	}
	m.mu.Unlock()
}

// stopTimersLocked stops the timer and ticker together. The token bump by the
// caller makes any already-fired callback a no-op.
func (m *Machine) stopTimersLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
}
