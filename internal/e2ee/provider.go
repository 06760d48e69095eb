package e2ee

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"amber-im/engine/internal/stanza"
)

// identity is an account's long-term encryption key pair.
type identity struct {
	private [32]byte
	public  [32]byte
}

// session is an established secure channel with one peer.
type session struct {
	key         []byte
	fingerprint string
}

// Provider is a SessionProvider with per-account identities and
// per-peer sessions derived via X25519 + HKDF, sealing payloads with
// XChaCha20-Poly1305.
type Provider struct {
	mu         sync.RWMutex
	identities map[string]*identity
	sessions   map[string]*session
}

// NewProvider creates an empty provider.
func NewProvider() *Provider {
	return &Provider{
		identities: make(map[string]*identity),
		sessions:   make(map[string]*session),
	}
}

// EnsureIdentity generates the account's key pair if absent and returns
// its public key.
func (p *Provider) EnsureIdentity(account string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.identities[account]; ok {
		return id.public[:], nil
	}
	id := &identity{}
	if _, err := rand.Read(id.private[:]); err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	curve25519.ScalarBaseMult(&id.public, &id.private)
	p.identities[account] = id
	return id.public[:], nil
}

// Establish derives a session with peer from its public key. The
// account's identity must exist.
func (p *Provider) Establish(account, peer string, peerPublic []byte) error {
	if len(peerPublic) != 32 {
		return fmt.Errorf("%w: invalid peer key length %d", ErrEncryptionFailure, len(peerPublic))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.identities[account]
	if !ok {
		return fmt.Errorf("%w: no identity for account %s", ErrEncryptionFailure, account)
	}

	shared, err := curve25519.X25519(id.private[:], peerPublic)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryptionFailure, err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, shared, []byte(account+"|"+peer), []byte("amber-session-v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return fmt.Errorf("%w: %v", ErrEncryptionFailure, err)
	}

	p.sessions[sessionKey(account, peer)] = &session{
		key:         key,
		fingerprint: fingerprintOf(peerPublic),
	}
	return nil
}

// Invalidate drops the session with peer, if any.
func (p *Provider) Invalidate(account, peer string) {
	p.mu.Lock()
	delete(p.sessions, sessionKey(account, peer))
	p.mu.Unlock()
}

// Encrypt seals the message body (or out-of-band reference) for the
// recipient's session. The returned envelope carries ciphertext instead
// of the plaintext body.
func (p *Provider) Encrypt(_ context.Context, msg *stanza.Message) (*stanza.Message, string, error) {
	p.mu.RLock()
	sess, ok := p.sessions[sessionKey(msg.From, msg.To)]
	id := p.identities[msg.From]
	p.mu.RUnlock()
	if !ok {
		return nil, "", ErrNoTrustedSession
	}
	if id == nil {
		return nil, "", fmt.Errorf("%w: no identity for account %s", ErrEncryptionFailure, msg.From)
	}

	aead, err := chacha20poly1305.NewX(sess.key)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailure, err)
	}

	plaintext := msg.Body
	if msg.OOB != "" {
		// Only the reference URL is subject to encryption; attachment
		// payloads are encrypted by the upload service beforehand.
		plaintext = msg.OOB
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailure, err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(msg.ID))

	enc := msg.Clone()
	enc.Body = ""
	enc.OOB = ""
	enc.Ciphertext = sealed
	return enc, fingerprintOf(id.public[:]), nil
}

// Decrypt opens a ciphertext received from peer. The stanza ID is bound
// as associated data at sealing time.
func (p *Provider) Decrypt(account, peer, stanzaID string, sealed []byte) (string, error) {
	p.mu.RLock()
	sess, ok := p.sessions[sessionKey(account, peer)]
	p.mu.RUnlock()
	if !ok {
		return "", ErrNoTrustedSession
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return "", fmt.Errorf("%w: short ciphertext", ErrEncryptionFailure)
	}

	aead, err := chacha20poly1305.NewX(sess.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailure, err)
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, []byte(stanzaID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailure, err)
	}
	return string(plain), nil
}

// LocalFingerprint returns the fingerprint of the account's own key.
func (p *Provider) LocalFingerprint(account string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.identities[account]
	if !ok {
		return "", false
	}
	return fingerprintOf(id.public[:]), true
}

// PeerFingerprint returns the fingerprint of the established session's
// peer key, for trust display.
func (p *Provider) PeerFingerprint(account, peer string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sess, ok := p.sessions[sessionKey(account, peer)]
	if !ok {
		return "", false
	}
	return sess.fingerprint, true
}

func sessionKey(account, peer string) string {
	return account + "|" + peer
}

func fingerprintOf(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}
