package conversation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"amber-im/engine/internal/bus"
	"amber-im/engine/internal/chatstate"
	"amber-im/engine/internal/e2ee"
	"amber-im/engine/internal/history"
	"amber-im/engine/internal/sendq"
	"amber-im/engine/internal/stanza"
	"amber-im/engine/internal/transport"
)

type fakeSettings struct {
	encryption string
	confirm    bool
}

func (s *fakeSettings) MessageEncryption() string { return s.encryption }
func (s *fakeSettings) ConfirmMessages() bool     { return s.confirm }

type testEnv struct {
	engine   *Engine
	db       *history.DB
	wire     *transport.Loopback
	settings *fakeSettings
	provider *e2ee.Provider
	events   *bus.Bus
	registry *Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := history.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	wire := transport.NewLoopback()
	settings := &fakeSettings{encryption: "none", confirm: true}
	provider := e2ee.NewProvider()
	events := bus.New()
	registry := NewRegistry(50*time.Millisecond, events)
	t.Cleanup(registry.Close)

	engine := NewEngine(db, sendq.New(), e2ee.NewDispatcher(provider), wire, settings, registry, events, zap.NewNop())
	return &testEnv{
		engine:   engine,
		db:       db,
		wire:     wire,
		settings: settings,
		provider: provider,
		events:   events,
		registry: registry,
	}
}

func (env *testEnv) establishSession(t *testing.T, account, peer string) {
	t.Helper()
	alicePub, err := env.provider.EnsureIdentity(account)
	if err != nil {
		t.Fatal(err)
	}
	bobPub, err := env.provider.EnsureIdentity(peer)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.provider.Establish(account, peer, bobPub); err != nil {
		t.Fatal(err)
	}
	if err := env.provider.Establish(peer, account, alicePub); err != nil {
		t.Fatal(err)
	}
}

const (
	testAccount = "alice@example.com"
	testPeer    = "bob@example.com"
)

func TestSendTextMarksSent(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.engine.SendText(context.Background(), testAccount, testPeer, "hello", "")
	if err != nil {
		t.Fatal(err)
	}

	sent := env.wire.Sent()
	if len(sent) != 1 {
		t.Fatalf("wire stanzas = %d, want 1", len(sent))
	}
	msg := sent[0]
	if msg.Body != "hello" || msg.To != testPeer {
		t.Errorf("unexpected envelope: %+v", msg)
	}
	if !msg.Markable || !msg.RequestReceipt {
		t.Error("every outgoing message must be markable and request a receipt")
	}
	if msg.ChatState != string(chatstate.Active) {
		t.Errorf("chat state = %q, want active", msg.ChatState)
	}

	entry, err := env.db.GetEntry(testAccount, testPeer, id)
	if err != nil {
		t.Fatal(err)
	}
	if entry.State != history.StateSent {
		t.Errorf("state = %s, want sent", entry.State)
	}
}

func TestSendTextWireOrder(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 10; i++ {
		if _, err := env.engine.SendText(context.Background(), testAccount, testPeer, fmt.Sprintf("msg-%d", i), ""); err != nil {
			t.Fatal(err)
		}
	}

	sent := env.wire.Sent()
	if len(sent) != 10 {
		t.Fatalf("wire stanzas = %d, want 10", len(sent))
	}
	for i, msg := range sent {
		if want := fmt.Sprintf("msg-%d", i); msg.Body != want {
			t.Errorf("position %d: body = %q, want %q", i, msg.Body, want)
		}
	}
}

func TestCorrectionFlow(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.engine.SendText(context.Background(), testAccount, testPeer, "hi", "")
	if err != nil {
		t.Fatal(err)
	}
	orig, err := env.db.GetEntry(testAccount, testPeer, id)
	if err != nil {
		t.Fatal(err)
	}
	if orig.State != history.StateSent {
		t.Fatalf("state = %s, want sent before correcting", orig.State)
	}

	corrID, err := env.engine.SendText(context.Background(), testAccount, testPeer, "hi2", id)
	if err != nil {
		t.Fatal(err)
	}
	if corrID != id {
		t.Errorf("correction addressed entry %q, want original %q", corrID, id)
	}

	entry, err := env.db.GetEntry(testAccount, testPeer, id)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Body != "hi2" {
		t.Errorf("body = %q, want corrected text", entry.Body)
	}
	if entry.State != history.StateSent {
		t.Errorf("state = %s, want sent after retransmission", entry.State)
	}
	if entry.Timestamp != orig.Timestamp {
		t.Error("a correction must not get a new transmission timestamp")
	}
	if entry.CorrectionStanzaID == "" || entry.CorrectionStanzaID == id {
		t.Errorf("correction stanza id = %q, want fresh id", entry.CorrectionStanzaID)
	}

	sent := env.wire.Sent()
	if len(sent) != 2 {
		t.Fatalf("wire stanzas = %d, want 2", len(sent))
	}
	corr := sent[1]
	if corr.ID == id {
		t.Error("correction must travel under a fresh stanza id")
	}
	if corr.CorrectionID != id {
		t.Errorf("correction reference = %q, want %q", corr.CorrectionID, id)
	}
}

func TestRecipientGoneLeavesEntry(t *testing.T) {
	env := newTestEnv(t)
	env.wire.FailRecipient(testPeer, transport.ErrRecipientGone)

	id, err := env.engine.SendText(context.Background(), testAccount, testPeer, "hello", "")
	if err != nil {
		t.Fatalf("recipient-gone must not surface: %v", err)
	}

	entry, err := env.db.GetEntry(testAccount, testPeer, id)
	if err != nil {
		t.Fatal(err)
	}
	if entry.State != history.StateUnsent {
		t.Errorf("state = %s, want unsent (untouched)", entry.State)
	}
	if entry.ErrorReason != "" {
		t.Errorf("error reason = %q, want empty", entry.ErrorReason)
	}
}

func TestSendFailureMarksError(t *testing.T) {
	env := newTestEnv(t)
	env.wire.FailRecipient(testPeer, errors.New("stream reset"))

	id, err := env.engine.SendText(context.Background(), testAccount, testPeer, "hello", "")
	if err == nil {
		t.Fatal("transport failure must surface")
	}

	entry, err := env.db.GetEntry(testAccount, testPeer, id)
	if err != nil {
		t.Fatal(err)
	}
	if entry.State != history.StateError {
		t.Errorf("state = %s, want error", entry.State)
	}
	if entry.ErrorReason != "stream reset" {
		t.Errorf("error reason = %q", entry.ErrorReason)
	}
}

func TestFailureDoesNotBlockLaterSends(t *testing.T) {
	env := newTestEnv(t)

	env.wire.FailRecipient(testPeer, errors.New("boom"))
	if _, err := env.engine.SendText(context.Background(), testAccount, testPeer, "first", ""); err == nil {
		t.Fatal("expected failure")
	}
	env.wire.FailRecipient(testPeer, nil)

	id, err := env.engine.SendText(context.Background(), testAccount, testPeer, "second", "")
	if err != nil {
		t.Fatal(err)
	}
	entry, err := env.db.GetEntry(testAccount, testPeer, id)
	if err != nil {
		t.Fatal(err)
	}
	if entry.State != history.StateSent {
		t.Errorf("state = %s, want sent", entry.State)
	}
}

func TestDisconnectedTransportMarksError(t *testing.T) {
	env := newTestEnv(t)
	env.wire.SetConnected(false)

	id, err := env.engine.SendText(context.Background(), testAccount, testPeer, "hello", "")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	entry, err := env.db.GetEntry(testAccount, testPeer, id)
	if err != nil {
		t.Fatal(err)
	}
	if entry.State != history.StateError {
		t.Errorf("state = %s, want error", entry.State)
	}
}

func TestEncryptedSend(t *testing.T) {
	env := newTestEnv(t)
	env.settings.encryption = "e2ee"
	env.establishSession(t, testAccount, testPeer)

	id, err := env.engine.SendText(context.Background(), testAccount, testPeer, "secret", "")
	if err != nil {
		t.Fatal(err)
	}

	sent := env.wire.Sent()
	if len(sent) != 1 {
		t.Fatalf("wire stanzas = %d, want 1", len(sent))
	}
	if !sent[0].Encrypted() {
		t.Fatal("wire stanza must carry ciphertext")
	}
	if sent[0].Body != "" {
		t.Error("plaintext body must not leave the engine")
	}

	entry, err := env.db.GetEntry(testAccount, testPeer, id)
	if err != nil {
		t.Fatal(err)
	}
	wantFP, ok := env.provider.LocalFingerprint(testAccount)
	if !ok {
		t.Fatal("provider has no local fingerprint")
	}
	if entry.Fingerprint != wantFP {
		t.Errorf("fingerprint = %q, want %q", entry.Fingerprint, wantFP)
	}
	if entry.Body != "secret" {
		t.Error("history keeps the decrypted view")
	}
}

func TestEncryptedSendWithoutSession(t *testing.T) {
	env := newTestEnv(t)
	env.settings.encryption = "e2ee"

	id, err := env.engine.SendText(context.Background(), testAccount, testPeer, "secret", "")
	if !errors.Is(err, e2ee.ErrNoTrustedSession) {
		t.Fatalf("err = %v, want ErrNoTrustedSession", err)
	}

	entry, err := env.db.GetEntry(testAccount, testPeer, id)
	if err != nil {
		t.Fatal(err)
	}
	if entry.State != history.StateError {
		t.Errorf("state = %s, want error", entry.State)
	}
	if len(env.wire.Sent()) != 0 {
		t.Error("nothing may reach the wire without a session")
	}
}

func TestConversationEncryptionOverride(t *testing.T) {
	env := newTestEnv(t)
	env.settings.encryption = "e2ee"
	env.establishSession(t, testAccount, testPeer)

	mode := e2ee.ModeNone
	env.engine.Conversation(testAccount, testPeer).SetEncryption(&mode)

	if _, err := env.engine.SendText(context.Background(), testAccount, testPeer, "plain", ""); err != nil {
		t.Fatal(err)
	}
	sent := env.wire.Sent()
	if len(sent) != 1 || sent[0].Encrypted() {
		t.Error("conversation override to none must win over the global default")
	}
}

func TestSendAttachment(t *testing.T) {
	env := newTestEnv(t)

	meta := &history.Attachment{Filename: "photo.jpg", Size: 1024, MimeType: "image/jpeg"}
	id, err := env.engine.SendAttachment(context.Background(), testAccount, testPeer, "https://share.example.com/photo.jpg", meta)
	if err != nil {
		t.Fatal(err)
	}

	sent := env.wire.Sent()
	if len(sent) != 1 {
		t.Fatalf("wire stanzas = %d, want 1", len(sent))
	}
	if sent[0].OOB != "https://share.example.com/photo.jpg" {
		t.Errorf("oob = %q", sent[0].OOB)
	}

	entry, err := env.db.GetEntry(testAccount, testPeer, id)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Kind != history.KindAttachment {
		t.Errorf("kind = %s, want attachment", entry.Kind)
	}
	if entry.Appendix == "" {
		t.Error("attachment metadata appendix missing")
	}
}

func TestReceiptGating(t *testing.T) {
	env := newTestEnv(t)
	marker := stanza.Marker{Type: stanza.MarkerDisplayed, ID: "m1"}

	env.settings.confirm = false
	if err := env.engine.SendReceipt(context.Background(), testAccount, testPeer, marker, false); err != nil {
		t.Fatal(err)
	}
	if len(env.wire.Sent()) != 0 {
		t.Fatal("receipt must be suppressed when the global switch is off")
	}

	env.settings.confirm = true
	env.engine.Conversation(testAccount, testPeer).SetConfirmMessages(false)
	if err := env.engine.SendReceipt(context.Background(), testAccount, testPeer, marker, false); err != nil {
		t.Fatal(err)
	}
	if len(env.wire.Sent()) != 0 {
		t.Fatal("receipt must be suppressed when the conversation flag is off")
	}

	env.engine.Conversation(testAccount, testPeer).SetConfirmMessages(true)
	if err := env.engine.SendReceipt(context.Background(), testAccount, testPeer, marker, true); err != nil {
		t.Fatal(err)
	}
	sent := env.wire.Sent()
	if len(sent) != 1 {
		t.Fatalf("wire stanzas = %d, want 1", len(sent))
	}
	msg := sent[0]
	if msg.Marker == nil || msg.Marker.ID != "m1" || msg.Marker.Type != stanza.MarkerDisplayed {
		t.Errorf("marker = %+v", msg.Marker)
	}
	if msg.ReceiptID != "m1" {
		t.Errorf("receipt id = %q, want m1", msg.ReceiptID)
	}
	if !msg.StoreHint {
		t.Error("body-less receipt needs a store hint")
	}
	if msg.Body != "" {
		t.Error("receipt must not carry a body")
	}
}

func TestDeliveryReceiptTransitionsOnce(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.engine.SendText(context.Background(), testAccount, testPeer, "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.engine.HandleDeliveryReceipt(testAccount, testPeer, id); err != nil {
		t.Fatal(err)
	}
	entry, err := env.db.GetEntry(testAccount, testPeer, id)
	if err != nil {
		t.Fatal(err)
	}
	if entry.State != history.StateDelivered {
		t.Errorf("state = %s, want delivered", entry.State)
	}

	// Duplicate receipts are dropped silently.
	if err := env.engine.HandleDeliveryReceipt(testAccount, testPeer, id); err != nil {
		t.Errorf("duplicate receipt: %v", err)
	}
}

func TestLocalStateSignalsOnlyAfterPeerEngages(t *testing.T) {
	env := newTestEnv(t)

	if err := env.engine.UpdateLocalState(context.Background(), testAccount, testPeer, chatstate.Composing); err != nil {
		t.Fatal(err)
	}
	if len(env.wire.Sent()) != 0 {
		t.Fatal("no signal before the peer has engaged")
	}

	env.engine.HandleRemoteChatState(testAccount, testPeer, chatstate.Active)
	if err := env.engine.UpdateLocalState(context.Background(), testAccount, testPeer, chatstate.Paused); err != nil {
		t.Fatal(err)
	}
	sent := env.wire.Sent()
	if len(sent) != 1 {
		t.Fatalf("wire stanzas = %d, want 1", len(sent))
	}
	if sent[0].ChatState != string(chatstate.Paused) {
		t.Errorf("chat state = %q, want paused", sent[0].ChatState)
	}

	// Same value again stays quiet.
	if err := env.engine.UpdateLocalState(context.Background(), testAccount, testPeer, chatstate.Paused); err != nil {
		t.Fatal(err)
	}
	if len(env.wire.Sent()) != 1 {
		t.Error("redundant local state must not transmit")
	}
}

func TestMessageUpdateEvents(t *testing.T) {
	env := newTestEnv(t)
	ch, unsub := env.events.Subscribe("message.", 8)
	defer unsub()

	id, err := env.engine.SendText(context.Background(), testAccount, testPeer, "hello", "")
	if err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		upd, ok := evt.Payload.(bus.MessageUpdate)
		if !ok {
			t.Fatalf("payload type %T", evt.Payload)
		}
		if upd.StanzaID != id || upd.State != string(history.StateSent) {
			t.Errorf("update = %+v", upd)
		}
	case <-time.After(time.Second):
		t.Fatal("no message.updated event")
	}
}
