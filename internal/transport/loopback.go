package transport

import (
	"context"
	"sync"

	"amber-im/engine/internal/stanza"
)

// Loopback is an in-process transport used for development and tests.
// It records every stanza it is asked to send and can be configured to
// fail for specific recipients.
type Loopback struct {
	mu        sync.Mutex
	connected bool
	sent      []*stanza.Message
	failWith  map[string]error
}

// NewLoopback returns a connected loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{
		connected: true,
		failWith:  make(map[string]error),
	}
}

// Send records the stanza, or returns the configured failure for its recipient.
func (l *Loopback) Send(_ context.Context, msg *stanza.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.failWith[msg.To]; ok {
		return err
	}
	l.sent = append(l.sent, msg)
	return nil
}

// Connected reports the configured connection state.
func (l *Loopback) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// SupportsEncryptedPayloads marks the loopback as encryption capable.
func (l *Loopback) SupportsEncryptedPayloads() bool {
	return true
}

// SetConnected toggles the connection state.
func (l *Loopback) SetConnected(connected bool) {
	l.mu.Lock()
	l.connected = connected
	l.mu.Unlock()
}

// FailRecipient makes every send to the given recipient fail with err.
// Passing a nil err clears the failure.
func (l *Loopback) FailRecipient(recipient string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.failWith, recipient)
		return
	}
	l.failWith[recipient] = err
}

// Sent returns a snapshot of the recorded stanzas in transmission order.
func (l *Loopback) Sent() []*stanza.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*stanza.Message, len(l.sent))
	copy(out, l.sent)
	return out
}
