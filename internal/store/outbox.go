package store

// QueueOutbox adds a message to the send outbox.
func (db *DB) QueueOutbox(clientMsgID, remoteJID, instanceName, body string) error {
	now := nowMillis()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, remote_jid, instance_name, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, remoteJID, instanceName, body, now, now)
	return err
}

// MarkOutboxSending moves a queued entry to 'sending'. It reports false when the
// entry was no longer queued, so two drainers never send the same row.
func (db *DB) MarkOutboxSending(clientMsgID string) (bool, error) {
	now := nowMillis()
	res, err := db.Exec(`UPDATE outbox SET status = 'sending', updated_at = ? WHERE client_msg_id = ? AND status = 'queued'`, now, clientMsgID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server message ID.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	now := nowMillis()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, updated_at = ? WHERE client_msg_id = ?`, serverMsgID, now, clientMsgID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := nowMillis()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

const outboxColumns = `id, client_msg_id, remote_jid, instance_name, body, status, error_message, server_msg_id, created_at`

// PendingOutbox returns outbox entries that are still queued.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	return db.queryOutbox(`SELECT ` + outboxColumns + ` FROM outbox WHERE status = 'queued' ORDER BY created_at ASC`)
}

// GetOutbox returns a single outbox entry, or nil if absent.
func (db *DB) GetOutbox(clientMsgID string) (*OutboxEntry, error) {
	entries, err := db.queryOutbox(`SELECT `+outboxColumns+` FROM outbox WHERE client_msg_id = ?`, clientMsgID)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (db *DB) queryOutbox(query string, args ...any) ([]OutboxEntry, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.RemoteJID, &e.InstanceName, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
