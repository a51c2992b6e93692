package models

import "time"

// Chat types. ChatType is an open string tag; these are the known values.
const (
	ChatTypePersonal  = "personal"
	ChatTypeGroup     = "group"
	ChatTypeAnonymous = "anonymous"
)

// Chat is a conversation. Personal chats have exactly two participants and
// are unique per unordered pair; group chats carry a name and an admin.
type Chat struct {
	ID           string    `db:"id" json:"id"`
	Name         *string   `db:"name" json:"name,omitempty"`
	IsGroup      bool      `db:"is_group" json:"is_group"`
	AdminID      *string   `db:"admin_id" json:"admin_id,omitempty"`
	ChatType     string    `db:"chat_type" json:"chat_type"`
	PairKey      *string   `db:"pair_key" json:"-"`
	LastActivity time.Time `db:"last_activity" json:"last_activity"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ChatDetail is a chat with its participant roster attached.
type ChatDetail struct {
	Chat
	Participants []PublicUser `json:"participants"`
}

// LastMessage is the newest non-deleted message shown in chat listings.
type LastMessage struct {
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	SenderUsername string    `db:"sender_username" json:"sender_username"`
}

// ChatSummary is the per-chat entry of a user's chat list, ordered by most
// recent activity.
type ChatSummary struct {
	Chat
	Participants []PublicUser `json:"participants"`
	LastMessage  *LastMessage `json:"last_message,omitempty"`
}
