package chatstate

import (
	"sync"
	"testing"
	"time"
)

func TestSetLocalBeforeRemoteEngages(t *testing.T) {
	m := NewMachine(time.Minute, nil)

	// Peer never engaged: state updates, but no signal goes out.
	if m.SetLocal(Composing) {
		t.Error("SetLocal before any remote state should not signal")
	}
	if m.Local() != Composing {
		t.Errorf("local = %s, want composing", m.Local())
	}
}

func TestSetLocalSignalsAfterRemoteEngages(t *testing.T) {
	m := NewMachine(time.Minute, nil)
	m.ObserveRemote(Active)

	if !m.SetLocal(Composing) {
		t.Error("SetLocal(composing) after remote engaged should signal")
	}
	// Same value again: never a second signal.
	if m.SetLocal(Composing) {
		t.Error("repeated SetLocal with same value should not signal")
	}
}

func TestObserveRemoteFirstUpdate(t *testing.T) {
	m := NewMachine(time.Minute, nil)

	if _, seen := m.Remote(); seen {
		t.Error("remote seen before any update")
	}
	if !m.ObserveRemote(Active) {
		t.Error("first remote update should report a change")
	}
	if s, seen := m.Remote(); !seen || s != Active {
		t.Errorf("remote = %s (seen=%v), want active", s, seen)
	}
}

func TestObserveRemoteRedundantUpdateIsNoOp(t *testing.T) {
	m := NewMachine(time.Minute, nil)
	m.ObserveRemote(Active)

	if m.ObserveRemote(Active) {
		t.Error("redundant identical remote state should be a no-op")
	}
}

func TestComposingTimeoutDowngradesToActive(t *testing.T) {
	var mu sync.Mutex
	var downgrades []State
	m := NewMachine(50*time.Millisecond, func(s State) {
		mu.Lock()
		downgrades = append(downgrades, s)
		mu.Unlock()
	})

	m.ObserveRemote(Composing)
	time.Sleep(200 * time.Millisecond)

	if s, _ := m.Remote(); s != Active {
		t.Errorf("remote = %s, want active after timeout", s)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(downgrades) != 1 {
		t.Fatalf("got %d downgrade callbacks, want exactly 1", len(downgrades))
	}
	if downgrades[0] != Active {
		t.Errorf("downgrade state = %s, want active", downgrades[0])
	}
}

func TestComposingRearmsTimer(t *testing.T) {
	var mu sync.Mutex
	downgraded := 0
	m := NewMachine(100*time.Millisecond, func(State) {
		mu.Lock()
		downgraded++
		mu.Unlock()
	})

	m.ObserveRemote(Composing)
	// Just before the deadline, another composing arrives: the timer
	// must rearm, so no downgrade happens at the original deadline.
	time.Sleep(70 * time.Millisecond)
	m.ObserveRemote(Composing)
	time.Sleep(70 * time.Millisecond)

	if s, _ := m.Remote(); s != Composing {
		t.Errorf("remote = %s, want composing (timer rearmed)", s)
	}
	mu.Lock()
	if downgraded != 0 {
		t.Errorf("got %d downgrades before rearmed deadline, want 0", downgraded)
	}
	mu.Unlock()

	// Let the rearmed timer fire.
	time.Sleep(100 * time.Millisecond)
	if s, _ := m.Remote(); s != Active {
		t.Errorf("remote = %s, want active after rearmed timeout", s)
	}
	mu.Lock()
	if downgraded != 1 {
		t.Errorf("got %d downgrades, want 1", downgraded)
	}
	mu.Unlock()
}

func TestExplicitUpdateCancelsComposingTimeout(t *testing.T) {
	downgrades := make(chan State, 1)
	m := NewMachine(60*time.Millisecond, func(s State) { downgrades <- s })

	m.ObserveRemote(Composing)
	m.ObserveRemote(Paused)

	select {
	case s := <-downgrades:
		t.Errorf("unexpected downgrade to %s after explicit update", s)
	case <-time.After(150 * time.Millisecond):
		// Expected: timer cancelled.
	}
	if s, _ := m.Remote(); s != Paused {
		t.Errorf("remote = %s, want paused", s)
	}
}

func TestStopCancelsPendingTimer(t *testing.T) {
	downgrades := make(chan State, 1)
	m := NewMachine(50*time.Millisecond, func(s State) { downgrades <- s })

	m.ObserveRemote(Composing)
	m.Stop()

	select {
	case <-downgrades:
		t.Error("downgrade fired after Stop")
	case <-time.After(120 * time.Millisecond):
	}
}
