package models

// Realtime event types pushed over the gateway's websocket channel.
const (
	EventHello              = "hello"
	EventPermissionsUpdated = "permissions.updated"
	EventUserOnline         = "user.online"
	EventUserOffline        = "user.offline"
	EventTyping             = "typing"
	EventMessageNew         = "message.new"
	EventMessageStatus      = "message.status"
)

// Event is the envelope for every frame sent to a websocket client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// HelloPayload is sent once after a successful handshake.
type HelloPayload struct {
	Ver         int64    `json:"ver"`
	Permissions []string `json:"permissions"`
}

// PermissionsUpdatedPayload is pushed when a user's effective permissions
// change while they are connected.
type PermissionsUpdatedPayload struct {
	Ver         int64    `json:"ver"`
	Permissions []string `json:"permissions"`
}

// PresencePayload announces a user going online or offline.
type PresencePayload struct {
	UserID string `json:"user_id"`
}

// TypingPayload relays a typing indicator within a conversation.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name,omitempty"`
}

// MessageStatusPayload reports a delivery-status transition on a message.
type MessageStatusPayload struct {
	MessageID         string         `json:"message_id"`
	ConversationID    string         `json:"conversation_id"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status"`
	ExternalMessageID string         `json:"external_message_id,omitempty"`
}

// InboxEvent is an event scoped to a conversation. The gateway fans it out
// only to connections whose permissions authorize visibility of that
// conversation.
type InboxEvent struct {
	ConversationID string
	ChannelID      string
	Event          Event
}
