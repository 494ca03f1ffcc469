package store

// Conversation is the backend-of-record row for one remote chat.
type Conversation struct {
	ID            int64  `json:"id"`
	RemoteJID     string `json:"remote_jid"`
	InstanceName  string `json:"instance_name"`
	ContactName   string `json:"contact_name"`
	ContactPhone  string `json:"contact_phone"`
	LastMessage   string `json:"last_message"`
	LastMessageAt int64  `json:"last_message_at"` // unix ms
	UnreadCount   int    `json:"unread_count"`
	IsOpen        bool   `json:"is_open"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// InboundMessage is a webhook-delivered message ready for ingestion.
type InboundMessage struct {
	MessageID    string // empty disables dedup for this message
	RemoteJID    string
	InstanceName string
	ContactName  string
	ContactPhone string
	Text         string
	FromMe       bool
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64  `json:"id"`
	ClientMsgID  string `json:"client_msg_id"`
	RemoteJID    string `json:"remote_jid"`
	InstanceName string `json:"instance_name"`
	Body         string `json:"body"`
	Status       string `json:"status"` // queued, sending, sent, failed
	ErrorMessage string `json:"error_message,omitempty"`
	ServerMsgID  string `json:"server_msg_id,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}
