package conversation

import (
	"sync"
	"time"

	"amber-im/engine/internal/bus"
	"amber-im/engine/internal/chatstate"
	"amber-im/engine/internal/e2ee"
)

// Options holds the per-conversation settings that override process-wide
// defaults. A nil Encryption falls back to the global default mode.
type Options struct {
	Encryption      *e2ee.Mode
	ConfirmMessages bool
}

// Conversation is one account's chat with a single peer. It owns the
// chat-state machine and the per-conversation options; message traffic
// goes through the engine.
type Conversation struct {
	Account string
	Peer    string

	mu       sync.Mutex
	opts     Options
	features []string

	state  *chatstate.Machine
	events *bus.Bus
}

func newConversation(account, peer string, timeout time.Duration, events *bus.Bus) *Conversation {
	c := &Conversation{
		Account: account,
		Peer:    peer,
		opts:    Options{ConfirmMessages: true},
		events:  events,
	}
	c.state = chatstate.NewMachine(timeout, func(s chatstate.State) {
		c.publishRemoteState(s)
	})
	return c
}

// SetLocalState records the local presence-of-intent state and reports
// whether a signal should be transmitted to the peer.
func (c *Conversation) SetLocalState(s chatstate.State) bool {
	return c.state.SetLocal(s)
}

// LocalState returns the current local chat state.
func (c *Conversation) LocalState() chatstate.State {
	return c.state.Local()
}

// ObserveRemoteState records a remote chat-state update and publishes a
// change event when the stored state actually moved.
func (c *Conversation) ObserveRemoteState(s chatstate.State) {
	if c.state.ObserveRemote(s) {
		c.publishRemoteState(s)
	}
}

// RemoteState returns the last observed remote chat state.
func (c *Conversation) RemoteState() (chatstate.State, bool) {
	return c.state.Remote()
}

func (c *Conversation) publishRemoteState(s chatstate.State) {
	c.events.Publish(bus.Event{
		Kind:      bus.KindRemoteStateChanged,
		Timestamp: time.Now(),
		Payload: bus.RemoteStateChange{
			Account: c.Account,
			Peer:    c.Peer,
			State:   string(s),
		},
	})
}

// SetFeatures replaces the peer's advertised capability set and notifies
// subscribers, e.g. when the peer gains attachment-upload support.
func (c *Conversation) SetFeatures(features []string) {
	c.mu.Lock()
	c.features = append([]string(nil), features...)
	c.mu.Unlock()

	c.events.Publish(bus.Event{
		Kind:      bus.KindFeaturesChanged,
		Timestamp: time.Now(),
		Payload: bus.FeaturesChange{
			Account:  c.Account,
			Peer:     c.Peer,
			Features: features,
		},
	})
}

// Features returns the peer's last known capability set.
func (c *Conversation) Features() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.features...)
}

// SetEncryption overrides the conversation's encryption mode. Passing
// nil restores the global-default fallback.
func (c *Conversation) SetEncryption(mode *e2ee.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.Encryption = mode
}

// ResolveEncryption returns the effective encryption mode: the
// conversation's override if set, else the given process-wide default.
func (c *Conversation) ResolveEncryption(globalDefault string) e2ee.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.Encryption != nil {
		return *c.opts.Encryption
	}
	return e2ee.ParseMode(globalDefault)
}

// SetConfirmMessages toggles the conversation's receipt-confirmation flag.
func (c *Conversation) SetConfirmMessages(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.ConfirmMessages = v
}

// ConfirmMessages reports the conversation's own receipt-confirmation flag.
func (c *Conversation) ConfirmMessages() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.ConfirmMessages
}

// Close stops the chat-state machine's pending timers.
func (c *Conversation) Close() {
	c.state.Stop()
}
