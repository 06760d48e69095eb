package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the engine. Subscribers filter by namespace
// prefix, e.g. "account." receives all account lifecycle events.
const (
	KindAccountEnabled  = "account.enabled"
	KindAccountDisabled = "account.disabled"
	KindAccountRemoved  = "account.removed"

	KindRemoteStateChanged = "conversation.state_changed"
	KindFeaturesChanged    = "conversation.features_changed"

	KindMessageUpdated = "message.updated"
)

// AccountChange is the payload for account.* events.
type AccountChange struct {
	Name      string
	Enabled   bool
	Reconnect bool
}

// RemoteStateChange is the payload for conversation.state_changed events.
type RemoteStateChange struct {
	Account string
	Peer    string
	State   string
}

// FeaturesChange is the payload for conversation.features_changed events.
type FeaturesChange struct {
	Account  string
	Peer     string
	Features []string
}

// MessageUpdate is the payload for message.updated events.
type MessageUpdate struct {
	Account  string
	Peer     string
	StanzaID string
	State    string
}
