package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"amber-im/engine/internal/bus"
	"amber-im/engine/internal/chatstate"
	"amber-im/engine/internal/e2ee"
	"amber-im/engine/internal/history"
	"amber-im/engine/internal/sendq"
	"amber-im/engine/internal/stanza"
	"amber-im/engine/internal/transport"
)

// Settings is the process-wide configuration view the engine reads.
type Settings interface {
	MessageEncryption() string
	ConfirmMessages() bool
}

// ErrNotConnected is returned when a send is attempted without an
// established transport connection.
var ErrNotConnected = errors.New("transport not connected")

// ErrEncryptionUnsupported is returned when a conversation resolves to
// end-to-end encryption but the transport cannot carry encrypted payloads.
var ErrEncryptionUnsupported = errors.New("transport does not support encrypted payloads")

// Engine orchestrates outgoing message traffic: envelope construction,
// encryption, per-peer serialized transmission and history reconciliation.
type Engine struct {
	hist     history.Store
	queue    *sendq.Queue
	enc      *e2ee.Dispatcher
	tr       transport.Transport
	settings Settings
	registry *Registry
	events   *bus.Bus
	logger   *zap.Logger

	// encCapable is probed once at construction.
	encCapable bool
}

// NewEngine wires the engine over its collaborators.
func NewEngine(hist history.Store, queue *sendq.Queue, enc *e2ee.Dispatcher, tr transport.Transport, settings Settings, registry *Registry, events *bus.Bus, logger *zap.Logger) *Engine {
	_, encCapable := transport.EncryptionCapabilityOf(tr)
	return &Engine{
		hist:       hist,
		queue:      queue,
		enc:        enc,
		tr:         tr,
		settings:   settings,
		registry:   registry,
		events:     events,
		logger:     logger.Named("engine"),
		encCapable: encCapable,
	}
}

// Conversation returns the conversation for account and peer, creating
// it on first use.
func (e *Engine) Conversation(account, peer string) *Conversation {
	return e.registry.Open(account, peer)
}

// SendText sends a text message, or a correction of an earlier one when
// correctionTargetID names the original stanza. A correction resets the
// addressed history entry to unsent and retransmits under a fresh stanza
// id that references the original.
func (e *Engine) SendText(ctx context.Context, account, peer, text, correctionTargetID string) (string, error) {
	if peer == "" {
		return "", fmt.Errorf("send text: empty peer")
	}
	conv := e.registry.Open(account, peer)

	stanzaID := uuid.NewString()
	now := time.Now()

	entryStanzaID := stanzaID
	isCorrection := correctionTargetID != ""
	if isCorrection {
		if err := e.hist.CorrectEntry(account, peer, correctionTargetID, text, stanzaID, now); err != nil {
			return "", err
		}
		entryStanzaID = correctionTargetID
	} else {
		entry := &history.Entry{
			Account:     account,
			Peer:        peer,
			StanzaID:    stanzaID,
			Kind:        history.KindMessage,
			Body:        text,
			State:       history.StateUnsent,
			Fingerprint: e.localFingerprint(conv, account),
			Timestamp:   now.UnixMilli(),
		}
		if _, err := e.hist.AppendEntry(entry); err != nil {
			return "", err
		}
	}

	msg := e.newEnvelope(conv, stanzaID)
	msg.Body = text
	msg.CorrectionID = correctionTargetID

	return entryStanzaID, e.transmit(ctx, conv, msg, entryStanzaID, isCorrection)
}

// SendAttachment sends an attachment reference. Only the reference URL
// travels through the engine; payload upload and its encryption happen
// in the upload service before this call.
func (e *Engine) SendAttachment(ctx context.Context, account, peer, url string, meta *history.Attachment) (string, error) {
	if peer == "" {
		return "", fmt.Errorf("send attachment: empty peer")
	}
	conv := e.registry.Open(account, peer)

	if meta != nil && meta.Size > 0 {
		if up, ok := transport.UploadCapabilityOf(e.tr); ok && meta.Size > up.MaxUploadSize() {
			return "", fmt.Errorf("attachment exceeds upload limit of %d bytes", up.MaxUploadSize())
		}
	}

	var appendix string
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return "", fmt.Errorf("encode attachment metadata: %w", err)
		}
		appendix = string(raw)
	}

	stanzaID := uuid.NewString()
	entry := &history.Entry{
		Account:     account,
		Peer:        peer,
		StanzaID:    stanzaID,
		Kind:        history.KindAttachment,
		Body:        url,
		State:       history.StateUnsent,
		Fingerprint: e.localFingerprint(conv, account),
		Timestamp:   time.Now().UnixMilli(),
		Appendix:    appendix,
	}
	if _, err := e.hist.AppendEntry(entry); err != nil {
		return "", err
	}

	msg := e.newEnvelope(conv, stanzaID)
	msg.Body = url
	msg.OOB = url

	return stanzaID, e.transmit(ctx, conv, msg, stanzaID, false)
}

// newEnvelope builds the outgoing envelope for conv. Every new message
// is markable and requests a delivery receipt. Sending implies the
// local state is active again, clearing any composing intent.
func (e *Engine) newEnvelope(conv *Conversation, stanzaID string) *stanza.Message {
	conv.SetLocalState(chatstate.Active)
	return &stanza.Message{
		ID:             stanzaID,
		From:           conv.Account,
		To:             conv.Peer,
		Type:           stanza.TypeChat,
		ChatState:      string(chatstate.Active),
		Markable:       true,
		RequestReceipt: true,
	}
}

// transmit schedules msg on the per-peer queue and reconciles the
// addressed history entry with the outcome.
func (e *Engine) transmit(ctx context.Context, conv *Conversation, msg *stanza.Message, entryStanzaID string, isCorrection bool) error {
	mode := conv.ResolveEncryption(e.settings.MessageEncryption())
	if mode == e2ee.ModeE2EE && !e.encCapable {
		err := ErrEncryptionUnsupported
		e.markError(conv, entryStanzaID, err)
		return err
	}

	err := e.queue.Schedule(ctx, queueKey(conv), func(ctx context.Context) error {
		if !e.tr.Connected() {
			return ErrNotConnected
		}
		wire := msg
		if mode != e2ee.ModeNone {
			enc, err := e.enc.Encrypt(ctx, msg, mode)
			if err != nil {
				return err
			}
			wire = enc
		}
		return e.tr.Send(ctx, wire)
	})

	switch {
	case err == nil:
		// Corrections keep the original transmission timestamp.
		var ts *time.Time
		if !isCorrection {
			now := time.Now()
			ts = &now
		}
		if uerr := e.hist.UpdateState(conv.Account, conv.Peer, entryStanzaID, history.StateUnsent, history.StateSent, ts); uerr != nil {
			e.logger.Warn("entry not reconciled to sent",
				zap.String("peer", conv.Peer),
				zap.String("stanza_id", entryStanzaID),
				zap.Error(uerr))
			return nil
		}
		e.publishUpdate(conv, entryStanzaID, history.StateSent)
		return nil

	case errors.Is(err, transport.ErrRecipientGone):
		// The peer's resource went away. The entry stays exactly as
		// recorded, and the caller sees success.
		e.logger.Info("recipient gone, entry left untouched",
			zap.String("peer", conv.Peer),
			zap.String("stanza_id", entryStanzaID))
		return nil

	default:
		e.markError(conv, entryStanzaID, err)
		return err
	}
}

func (e *Engine) markError(conv *Conversation, entryStanzaID string, cause error) {
	if err := e.hist.MarkError(conv.Account, conv.Peer, entryStanzaID, cause.Error()); err != nil {
		e.logger.Error("mark entry error failed",
			zap.String("peer", conv.Peer),
			zap.String("stanza_id", entryStanzaID),
			zap.Error(err))
		return
	}
	e.publishUpdate(conv, entryStanzaID, history.StateError)
}

func (e *Engine) publishUpdate(conv *Conversation, stanzaID string, state history.DeliveryState) {
	e.events.Publish(bus.Event{
		Kind:      bus.KindMessageUpdated,
		Timestamp: time.Now(),
		Payload: bus.MessageUpdate{
			Account:  conv.Account,
			Peer:     conv.Peer,
			StanzaID: stanzaID,
			State:    string(state),
		},
	})
}

func (e *Engine) localFingerprint(conv *Conversation, account string) string {
	if conv.ResolveEncryption(e.settings.MessageEncryption()) != e2ee.ModeE2EE {
		return ""
	}
	fp, _ := e.enc.LocalFingerprint(account)
	return fp
}

// CanSendReceipt reports whether receipts may be sent in conv: both the
// global confirmation switch and the conversation's own flag must be on.
func (e *Engine) CanSendReceipt(conv *Conversation) bool {
	return e.settings.ConfirmMessages() && conv.ConfirmMessages()
}

// SendReceipt acknowledges a peer's message with a chat marker and,
// optionally, a delivery receipt. It is a silent no-op when receipts
// are disabled, and never touches history.
func (e *Engine) SendReceipt(ctx context.Context, account, peer string, marker stanza.Marker, alsoDelivery bool) error {
	conv := e.registry.Open(account, peer)
	if !e.CanSendReceipt(conv) {
		return nil
	}

	msg := &stanza.Message{
		ID:        uuid.NewString(),
		From:      account,
		To:        peer,
		Type:      stanza.TypeChat,
		Marker:    &marker,
		StoreHint: true,
	}
	if alsoDelivery {
		msg.ReceiptID = marker.ID
	}

	return e.queue.Schedule(ctx, queueKey(conv), func(ctx context.Context) error {
		if !e.tr.Connected() {
			return ErrNotConnected
		}
		return e.tr.Send(ctx, msg)
	})
}

// HandleDeliveryReceipt processes an inbound delivery receipt for one of
// our sent messages. Duplicate receipts are ignored.
func (e *Engine) HandleDeliveryReceipt(account, peer, stanzaID string) error {
	err := e.hist.UpdateState(account, peer, stanzaID, history.StateSent, history.StateDelivered, nil)
	if errors.Is(err, history.ErrStateConflict) {
		e.logger.Debug("duplicate or late delivery receipt",
			zap.String("peer", peer),
			zap.String("stanza_id", stanzaID))
		return nil
	}
	if err != nil {
		return err
	}
	conv := e.registry.Open(account, peer)
	e.publishUpdate(conv, stanzaID, history.StateDelivered)
	return nil
}

// HandleRemoteChatState processes a peer's chat-state notification.
func (e *Engine) HandleRemoteChatState(account, peer string, state chatstate.State) {
	e.registry.Open(account, peer).ObserveRemoteState(state)
}

// UpdateLocalState records a local chat-state change (e.g. the user
// started typing) and transmits the signal when the peer has engaged.
func (e *Engine) UpdateLocalState(ctx context.Context, account, peer string, state chatstate.State) error {
	conv := e.registry.Open(account, peer)
	if !conv.SetLocalState(state) {
		return nil
	}

	msg := &stanza.Message{
		ID:        uuid.NewString(),
		From:      account,
		To:        peer,
		Type:      stanza.TypeChat,
		ChatState: string(state),
	}
	return e.queue.Schedule(ctx, queueKey(conv), func(ctx context.Context) error {
		if !e.tr.Connected() {
			return ErrNotConnected
		}
		return e.tr.Send(ctx, msg)
	})
}

func queueKey(conv *Conversation) string {
	return conv.Account + "\x00" + conv.Peer
}
