package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrStateConflict is returned when a state transition finds the entry
// in a different state than expected. The guarded UPDATE makes each
// transition take effect exactly once.
var ErrStateConflict = errors.New("history entry not in expected state")

// Store is the chat-history contract consumed by the conversation
// engine. Its persistence format is an implementation detail.
type Store interface {
	AppendEntry(e *Entry) (int64, error)
	UpdateState(account, peer, stanzaID string, from, to DeliveryState, ts *time.Time) error
	CorrectEntry(account, peer, targetStanzaID, newBody, correctionStanzaID string, ts time.Time) error
	MarkError(account, peer, stanzaID, reason string) error
	GetEntry(account, peer, stanzaID string) (*Entry, error)
}

// AppendEntry inserts a new outgoing entry and returns its row id.
func (db *DB) AppendEntry(e *Entry) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO entries (account, peer, stanza_id, kind, body, state, error_reason, fingerprint, timestamp, appendix, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Account, e.Peer, e.StanzaID, e.Kind, e.Body, e.State, e.ErrorReason, e.Fingerprint, e.Timestamp, e.Appendix, now)
	if err != nil {
		return 0, fmt.Errorf("append entry: %w", err)
	}
	return res.LastInsertId()
}

// UpdateState moves the addressed entry from one delivery state to
// another. The from-state is part of the WHERE clause, so a transition
// applies exactly once; ErrStateConflict reports a lost race or an
// illegal move. A nil ts keeps the recorded timestamp (corrections do
// not get a new one).
func (db *DB) UpdateState(account, peer, stanzaID string, from, to DeliveryState, ts *time.Time) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal delivery transition %s -> %s", from, to)
	}

	var res sql.Result
	var err error
	if ts != nil {
		res, err = db.Exec(`
			UPDATE entries SET state = ?, timestamp = ?
			WHERE account = ? AND peer = ? AND stanza_id = ? AND state = ?`,
			to, ts.UnixMilli(), account, peer, stanzaID, from)
	} else {
		res, err = db.Exec(`
			UPDATE entries SET state = ?
			WHERE account = ? AND peer = ? AND stanza_id = ? AND state = ?`,
			to, account, peer, stanzaID, from)
	}
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStateConflict
	}
	return nil
}

// CorrectEntry replaces the body of the entry addressed by the original
// stanza id and resets it to unsent for retransmission. The correction
// stanza id is recorded; the entry keeps its original identifier.
func (db *DB) CorrectEntry(account, peer, targetStanzaID, newBody, correctionStanzaID string, ts time.Time) error {
	res, err := db.Exec(`
		UPDATE entries SET body = ?, state = ?, error_reason = '', correction_stanza_id = ?, correction_timestamp = ?
		WHERE account = ? AND peer = ? AND stanza_id = ?`,
		newBody, StateUnsent, correctionStanzaID, ts.UnixMilli(), account, peer, targetStanzaID)
	if err != nil {
		return fmt.Errorf("correct entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("correct entry: no entry with stanza id %s", targetStanzaID)
	}
	return nil
}

// MarkError transitions the addressed entry to the terminal error state
// with the given reason. Entries already past unsent are left alone.
func (db *DB) MarkError(account, peer, stanzaID, reason string) error {
	_, err := db.Exec(`
		UPDATE entries SET state = ?, error_reason = ?
		WHERE account = ? AND peer = ? AND stanza_id = ? AND state = ?`,
		StateError, reason, account, peer, stanzaID, StateUnsent)
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	return nil
}

// GetEntry fetches one entry by its stanza id.
func (db *DB) GetEntry(account, peer, stanzaID string) (*Entry, error) {
	row := db.QueryRow(`
		SELECT id, account, peer, stanza_id, kind, body, state, error_reason, fingerprint, timestamp, correction_stanza_id, correction_timestamp, appendix
		FROM entries WHERE account = ? AND peer = ? AND stanza_id = ?`,
		account, peer, stanzaID)
	var e Entry
	err := row.Scan(&e.ID, &e.Account, &e.Peer, &e.StanzaID, &e.Kind, &e.Body, &e.State, &e.ErrorReason, &e.Fingerprint, &e.Timestamp, &e.CorrectionStanzaID, &e.CorrectionTimestamp, &e.Appendix)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEntries returns a conversation's entries using keyset pagination
// by timestamp, newest first.
func (db *DB) ListEntries(account, peer string, beforeTs int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, account, peer, stanza_id, kind, body, state, error_reason, fingerprint, timestamp, correction_stanza_id, correction_timestamp, appendix
		FROM entries
		WHERE account = ? AND peer = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, account, peer, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Account, &e.Peer, &e.StanzaID, &e.Kind, &e.Body, &e.State, &e.ErrorReason, &e.Fingerprint, &e.Timestamp, &e.CorrectionStanzaID, &e.CorrectionTimestamp, &e.Appendix); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteConversation removes all entries for one account+peer pair.
func (db *DB) DeleteConversation(account, peer string) error {
	_, err := db.Exec(`DELETE FROM entries WHERE account = ? AND peer = ?`, account, peer)
	return err
}

// DeleteAccount removes all entries belonging to an account.
func (db *DB) DeleteAccount(account string) error {
	_, err := db.Exec(`DELETE FROM entries WHERE account = ?`, account)
	return err
}
