package stanza

// Type is the stanza message type.
type Type string

const (
	TypeChat Type = "chat"
)

// MarkerType identifies a chat marker kind.
type MarkerType string

const (
	MarkerReceived  MarkerType = "received"
	MarkerDisplayed MarkerType = "displayed"
)

// Marker acknowledges a peer's message identified by ID.
type Marker struct {
	Type MarkerType
	ID   string
}

// Message is the outgoing message envelope handed to the transport.
// Once scheduled for transmission it is treated as immutable; retries of
// the same logical send reuse the identical envelope, including its ID.
type Message struct {
	// ID is the stanza identifier, unique per logical message. A
	// correction is a new stanza with its own ID; it references the
	// corrected message through CorrectionID.
	ID   string
	From string
	To   string
	Type Type

	Body string
	// OOB carries the out-of-band attachment reference URL.
	OOB string

	// ChatState is the local presence-of-intent stamped on the message.
	ChatState string

	// Markable and RequestReceipt are set unconditionally on every
	// newly created outgoing message.
	Markable       bool
	RequestReceipt bool

	// ReceiptID, when set, turns the message into a delivery receipt
	// for the given stanza ID.
	ReceiptID string
	// Marker, when set, acknowledges the peer's message it references.
	Marker *Marker
	// StoreHint asks the server to archive a body-less stanza.
	StoreHint bool

	// CorrectionID references the original stanza being corrected.
	CorrectionID string

	// Ciphertext replaces Body on the wire when the message has been
	// end-to-end encrypted.
	Ciphertext []byte
	// Fingerprint is the sender's own key fingerprint attached for
	// local history display. It is never transmitted.
	Fingerprint string
}

// Encrypted reports whether the envelope carries an encrypted payload.
func (m *Message) Encrypted() bool {
	return len(m.Ciphertext) > 0
}

// Clone returns a shallow copy, so encryption can transform the envelope
// without mutating the caller's copy.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}
