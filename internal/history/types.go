package history

import "slices"

// DeliveryState is the delivery status of one outgoing history entry.
type DeliveryState string

const (
	StateUnsent    DeliveryState = "unsent"
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateError     DeliveryState = "error"
)

// validTransitions is the forward-only transition table. Error is
// terminal; a correction resets the history entry to unsent outside
// this table, since it targets the entry, not the prior wire status.
var validTransitions = map[DeliveryState][]DeliveryState{
	StateUnsent:    {StateSent, StateError},
	StateSent:      {StateDelivered},
	StateDelivered: {},
	StateError:     {},
}

// CanTransition reports whether from -> to is a legal delivery-state move.
func CanTransition(from, to DeliveryState) bool {
	return slices.Contains(validTransitions[from], to)
}

// EntryKind distinguishes plain messages from attachment references.
type EntryKind string

const (
	KindMessage    EntryKind = "message"
	KindAttachment EntryKind = "attachment"
)

// Entry is one outgoing history record.
type Entry struct {
	ID       int64
	Account  string
	Peer     string
	StanzaID string
	Kind     EntryKind
	Body     string
	State    DeliveryState
	// ErrorReason is set when State is error.
	ErrorReason string
	// Fingerprint is the sender's key fingerprint shown for the
	// decrypted view of an end-to-end encrypted entry.
	Fingerprint string
	// Timestamp is the transmission timestamp in unix milliseconds.
	Timestamp int64
	// CorrectionStanzaID is the stanza id of the latest correction
	// applied to this entry, if any.
	CorrectionStanzaID  string
	CorrectionTimestamp int64
	// Appendix carries attachment metadata as JSON.
	Appendix string
}

// Attachment is the metadata appendix stored with attachment entries.
type Attachment struct {
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}
