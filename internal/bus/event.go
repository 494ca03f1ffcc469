package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by prefix, so the
// segment before the first dot acts as a namespace.
const (
	KindChatsSnapshot       = "chats.snapshot"
	KindConversationUpdated = "conversation.updated"
	KindInstanceStatus      = "instance.status_changed"
	KindInstanceDeviceLimit = "instance.device_limit"
	KindInstanceConnection  = "instance.connection"
	KindMessageQueued       = "message.queued"
	KindMessageSendAck      = "message.send_ack"
	KindMessageSendFailed   = "message.send_failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}
