package e2ee

import (
	"context"
	"errors"
	"fmt"

	"amber-im/engine/internal/stanza"
)

// Mode selects the encryption transform applied to outgoing messages.
type Mode string

const (
	ModeNone Mode = "none"
	ModeE2EE Mode = "e2ee"
)

// ParseMode maps a configuration string to a Mode, defaulting to none.
func ParseMode(s string) Mode {
	if Mode(s) == ModeE2EE {
		return ModeE2EE
	}
	return ModeNone
}

var (
	// ErrNoTrustedSession indicates no secure session exists with any of
	// the peer's registered devices.
	ErrNoTrustedSession = errors.New("no trusted session with peer devices")
	// ErrEncryptionFailure indicates the encryption transform failed.
	ErrEncryptionFailure = errors.New("message encryption failed")
)

// SessionProvider supplies per-peer secure sessions. Implementations are
// connected to the account's device registry.
type SessionProvider interface {
	// Encrypt transforms msg into its encrypted wire form and returns
	// the sender's own key fingerprint. Fails with ErrNoTrustedSession
	// or ErrEncryptionFailure.
	Encrypt(ctx context.Context, msg *stanza.Message) (*stanza.Message, string, error)
	// LocalFingerprint returns the account's own verified key
	// fingerprint, used for decrypted-view display in history.
	LocalFingerprint(account string) (string, bool)
}

// Dispatcher applies the configured encryption transform to outgoing
// messages. It is purely functional: no side effects beyond the
// returned message.
type Dispatcher struct {
	provider SessionProvider
}

// NewDispatcher creates a dispatcher over the given session provider.
func NewDispatcher(provider SessionProvider) *Dispatcher {
	return &Dispatcher{provider: provider}
}

// Encrypt transforms msg according to mode. ModeNone passes the message
// through unchanged. ModeE2EE encrypts via the session provider and
// annotates the result with the sender's key fingerprint for local
// history display, distinct from the wire-transmitted ciphertext.
func (d *Dispatcher) Encrypt(ctx context.Context, msg *stanza.Message, mode Mode) (*stanza.Message, error) {
	switch mode {
	case ModeNone:
		return msg, nil
	case ModeE2EE:
		if d.provider == nil {
			return nil, ErrNoTrustedSession
		}
		enc, fingerprint, err := d.provider.Encrypt(ctx, msg)
		if err != nil {
			if errors.Is(err, ErrNoTrustedSession) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrEncryptionFailure, err)
		}
		enc.Fingerprint = fingerprint
		return enc, nil
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrEncryptionFailure, mode)
	}
}

// LocalFingerprint exposes the provider's own key fingerprint for the
// given account.
func (d *Dispatcher) LocalFingerprint(account string) (string, bool) {
	if d.provider == nil {
		return "", false
	}
	return d.provider.LocalFingerprint(account)
}
