package store

import (
	"database/sql"
	"errors"
	"fmt"
)

const conversationColumns = `id, remote_jid, instance_name, contact_name, contact_phone,
	last_message, last_message_at, unread_count, is_open, created_at, updated_at`

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.RemoteJID, &c.InstanceName, &c.ContactName, &c.ContactPhone,
		&c.LastMessage, &c.LastMessageAt, &c.UnreadCount, &c.IsOpen, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// IngestInbound records an inbound webhook message against its conversation.
//
// A missing conversation is created with unread_count 1 (0 when sent by us).
// An existing one always takes the new last message, and its unread_count
// grows by one only when the message is not ours and the conversation is not
// open. The decision reads is_open inside the same statement, so a concurrent
// chat-state update cannot interleave with it.
//
// When in.MessageID is set and was already ingested, nothing is written and
// duplicate is true.
func (db *DB) IngestInbound(in *InboundMessage) (conv *Conversation, duplicate bool, err error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMillis()

	if in.MessageID != "" {
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO processed_messages (message_id, remote_jid, received_at)
			VALUES (?, ?, ?)`, in.MessageID, in.RemoteJID, now)
		if err != nil {
			return nil, false, fmt.Errorf("record message id: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, false, fmt.Errorf("record message id: %w", err)
		}
		if n == 0 {
			return nil, true, nil
		}
	}

	seed := 1
	if in.FromMe {
		seed = 0
	}

	// excluded.unread_count carries the seed, so it is 1 exactly for inbound
	// messages from the remote side.
	row := tx.QueryRow(`
		INSERT INTO conversations (remote_jid, instance_name, contact_name, contact_phone,
			last_message, last_message_at, unread_count, is_open, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(remote_jid) DO UPDATE SET
			last_message = excluded.last_message,
			last_message_at = excluded.last_message_at,
			unread_count = CASE
				WHEN excluded.unread_count > 0 AND conversations.is_open = 0
				THEN conversations.unread_count + 1
				ELSE conversations.unread_count
			END,
			updated_at = excluded.updated_at
		RETURNING `+conversationColumns,
		in.RemoteJID, in.InstanceName, in.ContactName, in.ContactPhone,
		in.Text, now, seed, now, now)

	conv, err = scanConversation(row)
	if err != nil {
		return nil, false, fmt.Errorf("upsert conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit ingest: %w", err)
	}
	return conv, false, nil
}

// SetConversationOpen toggles is_open for a conversation. Opening also zeroes
// unread_count in the same UPDATE. Returns nil, nil when no record exists.
func (db *DB) SetConversationOpen(remoteJID string, open bool) (*Conversation, error) {
	now := nowMillis()
	query := `UPDATE conversations SET is_open = 0, updated_at = ? WHERE remote_jid = ? RETURNING ` + conversationColumns
	if open {
		query = `UPDATE conversations SET is_open = 1, unread_count = 0, updated_at = ? WHERE remote_jid = ? RETURNING ` + conversationColumns
	}
	c, err := scanConversation(db.QueryRow(query, now, remoteJID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetConversation returns a single conversation by remote JID, or nil if absent.
func (db *DB) GetConversation(remoteJID string) (*Conversation, error) {
	c, err := scanConversation(db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE remote_jid = ?`, remoteJID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversations returns conversations sorted by last message time descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`SELECT `+conversationColumns+`
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// UnreadCounts returns the authoritative unread count of every known conversation.
func (db *DB) UnreadCounts() (map[string]int, error) {
	rows, err := db.Query(`SELECT remote_jid, unread_count FROM conversations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var jid string
		var n int
		if err := rows.Scan(&jid, &n); err != nil {
			return nil, err
		}
		counts[jid] = n
	}
	return counts, rows.Err()
}
