package keychain

import "sync"

// NotificationKeys caches per-account keys used to decrypt pushed
// notification payloads. Keys derived for an account must be purged
// when the account is deleted; a dangling derived secret is a security
// defect, not merely a leak.
type NotificationKeys struct {
	mu   sync.Mutex
	keys map[string][]byte
}

// NewNotificationKeys creates an empty cache.
func NewNotificationKeys() *NotificationKeys {
	return &NotificationKeys{keys: make(map[string][]byte)}
}

// Set stores the key for an account. A nil key removes the entry and
// zeroes the previous value.
func (n *NotificationKeys) Set(account string, key []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if prev, ok := n.keys[account]; ok {
		zeroBytes(prev)
	}
	if key == nil {
		delete(n.keys, account)
		return
	}
	n.keys[account] = append([]byte(nil), key...)
}

// Get returns a copy of the account's key, if present.
func (n *NotificationKeys) Get(account string) ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key, ok := n.keys[account]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), key...), true
}
