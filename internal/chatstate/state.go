package chatstate

import (
	"sync"
	"time"
)

// State is the presence-of-intent signal exchanged between conversation
// participants, distinct from network presence.
type State string

const (
	Inactive  State = "inactive"
	Active    State = "active"
	Composing State = "composing"
	Paused    State = "paused"
	Gone      State = "gone"
)

// DefaultComposingTimeout is how long a remote "composing" state is kept
// before being downgraded to "active" without further updates.
const DefaultComposingTimeout = 60 * time.Second

// Machine tracks the local and remote chat state of one conversation.
// All mutations run under the machine's mutex; the composing-timeout
// callback acquires the same mutex before touching state.
type Machine struct {
	mu         sync.Mutex
	local      State
	remote     State
	remoteSeen bool

	timeout     time.Duration
	timer       *time.Timer
	timerGen    uint64
	onDowngrade func(State)
}

// NewMachine creates a machine with the given composing timeout.
// onDowngrade is invoked (outside the lock) when a stale remote
// "composing" state is downgraded to "active"; it may be nil.
func NewMachine(timeout time.Duration, onDowngrade func(State)) *Machine {
	if timeout <= 0 {
		timeout = DefaultComposingTimeout
	}
	return &Machine{
		local:       Active,
		timeout:     timeout,
		onDowngrade: onDowngrade,
	}
}

// Local returns the current local chat state.
func (m *Machine) Local() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

// Remote returns the last observed remote chat state, and whether any
// remote state has been observed at all.
func (m *Machine) Remote() (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remote, m.remoteSeen
}

// SetLocal updates the local chat state. It reports whether a
// presence-of-intent signal should be transmitted: only when the state
// actually changed and the peer has engaged at least once. The local
// state is updated unconditionally on distinct input.
func (m *Machine) SetLocal(s State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == s {
		return false
	}
	m.local = s
	return m.remoteSeen
}

// ObserveRemote records a remote chat state update and reports whether
// the stored state changed. A redundant non-composing update is a true
// no-op; a repeated "composing" keeps the state but rearms the timeout.
func (m *Machine) ObserveRemote(s State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.remote
	if prev == Composing && s != prev {
		m.cancelTimerLocked()
	}
	if m.remoteSeen && s == prev && s != Composing {
		return false
	}

	changed := !m.remoteSeen || s != prev
	m.remote = s
	m.remoteSeen = true

	if s == Composing {
		// Cancel-and-rearm: a second composing never stacks timers.
		m.cancelTimerLocked()
		m.armTimerLocked()
	}
	return changed
}

// Stop cancels any pending composing timeout.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
}

func (m *Machine) armTimerLocked() {
	m.timerGen++
	gen := m.timerGen
	m.timer = time.AfterFunc(m.timeout, func() {
		m.fire(gen)
	})
}

func (m *Machine) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	// Invalidate a callback that already fired but has not yet taken
	// the lock.
	m.timerGen++
}

func (m *Machine) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.timerGen || m.remote != Composing {
		m.mu.Unlock()
		return
	}
	m.remote = Active
	m.timer = nil
	cb := m.onDowngrade
	m.mu.Unlock()

	if cb != nil {
		cb(Active)
	}
}
