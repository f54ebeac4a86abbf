package models

import "time"

const (
	// UserMessage indicates that the message was authored by a user.
	UserMessage MessageType = "user"
	// SystemMessage indicates a message synthesized by the client or server,
	// such as a join/leave presence notice.
	SystemMessage MessageType = "system"
)

// MessageType determines how a chat message should be presented.
type MessageType = string

// ChatMessage is a single entry in an event's chat room. Server-generated
// and client-synthesized ids coexist; ids are unique within a session's
// message list.
type ChatMessage struct {
	ID        string      `json:"id"`
	EventID   string      `json:"event_id,omitempty"`
	UserID    string      `json:"user_id,omitempty"`
	Username  string      `json:"username,omitempty"`
	Content   string      `json:"content"`
	Type      MessageType `json:"message_type"`
	CreatedAt time.Time   `json:"created_at"`
	// Timestamp is set client-side on synthesized messages so they order
	// deterministically before any server ack.
	Timestamp int64 `json:"timestamp,omitempty"`
}
