package conversation

import (
	"sync"
	"time"

	"amber-im/engine/internal/bus"
	"amber-im/engine/internal/chatstate"
)

// Registry owns all open conversations, keyed by account and peer.
type Registry struct {
	mu      sync.Mutex
	convs   map[string]*Conversation
	timeout time.Duration
	events  *bus.Bus
}

// NewRegistry creates an empty registry. timeout is the remote composing
// timeout applied to every conversation; zero uses the default.
func NewRegistry(timeout time.Duration, events *bus.Bus) *Registry {
	if timeout <= 0 {
		timeout = chatstate.DefaultComposingTimeout
	}
	return &Registry{
		convs:   make(map[string]*Conversation),
		timeout: timeout,
		events:  events,
	}
}

func key(account, peer string) string {
	return account + "\x00" + peer
}

// Open returns the conversation for account and peer, creating it on
// first use.
func (r *Registry) Open(account, peer string) *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(account, peer)
	c, ok := r.convs[k]
	if !ok {
		c = newConversation(account, peer, r.timeout, r.events)
		r.convs[k] = c
	}
	return c
}

// Get returns an existing conversation, or nil.
func (r *Registry) Get(account, peer string) *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.convs[key(account, peer)]
}

// Remove closes and forgets one conversation.
func (r *Registry) Remove(account, peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(account, peer)
	if c, ok := r.convs[k]; ok {
		c.Close()
		delete(r.convs, k)
	}
}

// RemoveAccount closes and forgets every conversation of one account,
// used when the account itself is removed.
func (r *Registry) RemoveAccount(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, c := range r.convs {
		if c.Account == account {
			c.Close()
			delete(r.convs, k)
		}
	}
}

// Close stops every conversation's timers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, c := range r.convs {
		c.Close()
		delete(r.convs, k)
	}
}
