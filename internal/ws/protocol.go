package ws

import "encoding/json"

// Client-emitted event names.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
)

// Server-emitted event names.
const (
	EventNewMessage = "new-message"
	EventUserTyping = "user-typing"
	EventError      = "error"
)

// ClientEvent is the envelope of every client-to-server frame.
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerEvent is the envelope of every server-to-client frame.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type joinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type sendMessagePayload struct {
	ChatID      string `json:"chatId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
}

type typingPayload struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

type userTypingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func errorEvent(message string) ServerEvent {
	return ServerEvent{Event: EventError, Data: errorPayload{Message: message}}
}
