package transport

import (
	"context"
	"errors"

	"amber-im/engine/internal/stanza"
)

// ErrRecipientGone indicates the peer's resource is no longer available.
// Sends failing with this reason leave the history entry untouched.
var ErrRecipientGone = errors.New("recipient resource gone")

// Transport is the connection to the federated messaging network. The
// wire protocol behind it is out of scope for the engine; implementations
// are provided by the protocol stack.
type Transport interface {
	// Send transmits one stanza. It blocks until the stanza has been
	// handed to the server or fails.
	Send(ctx context.Context, msg *stanza.Message) error
	// Connected reports whether the transport currently has an
	// established connection.
	Connected() bool
}

// EncryptionCapability is implemented by transports able to carry
// end-to-end encrypted payloads. The engine queries it once before
// building an encrypted send pipeline.
type EncryptionCapability interface {
	SupportsEncryptedPayloads() bool
}

// EncryptionCapabilityOf probes t for encrypted-payload support and
// returns the typed capability handle if present.
func EncryptionCapabilityOf(t Transport) (EncryptionCapability, bool) {
	c, ok := t.(EncryptionCapability)
	if !ok || !c.SupportsEncryptedPayloads() {
		return nil, false
	}
	return c, true
}

// UploadCapability is implemented by transports whose server offers
// attachment upload slots.
type UploadCapability interface {
	MaxUploadSize() int64
}

// UploadCapabilityOf probes t for upload support.
func UploadCapabilityOf(t Transport) (UploadCapability, bool) {
	c, ok := t.(UploadCapability)
	return c, ok
}
