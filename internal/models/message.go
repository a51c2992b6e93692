package models

import "time"

// MessageTypeText is the default message type. The type column is an open
// string tag so new kinds can be added without a schema change.
const MessageTypeText = "text"

// Message is a persisted chat message. Ordering key is (created_at, id).
type Message struct {
	ID          string    `db:"id" json:"id"`
	SenderID    string    `db:"sender_id" json:"sender_id"`
	ChatID      string    `db:"chat_id" json:"chat_id"`
	Content     string    `db:"content" json:"content"`
	MessageType string    `db:"message_type" json:"message_type"`
	IsDeleted   bool      `db:"is_deleted" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// MessageWithSender is a message joined with its sender's public profile,
// the shape delivered to clients.
type MessageWithSender struct {
	Message
	Sender PublicUser `json:"sender"`
}
