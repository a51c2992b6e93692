package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-backend/internal/auth"
	"chat-backend/internal/observability"
	"chat-backend/internal/repositories"
)

const (
	routingKeyWSEvents = "ws_events.connections"

	// Absence of membership reads the same as a nonexistent chat so chat
	// existence never leaks to outsiders.
	msgChatNotFound = "chat not found or access denied"
)

// Handler owns the websocket endpoint: handshake auth, presence transitions,
// and dispatch of realtime chat events.
type Handler struct {
	hub      *Hub
	presence *PresenceTracker
	identity *auth.Service
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
}

// NewHandler constructs the websocket handler.
func NewHandler(hub *Hub, presence *PresenceTracker, identity *auth.Service, chats repositories.ChatRepository, messages repositories.MessageRepository) *Handler {
	return &Handler{hub: hub, presence: presence, identity: identity, chats: chats, messages: messages}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the handshake, upgrades the connection, auto-joins
// the user's personal room, and runs the read loop until disconnect.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-backend/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	user, err := h.identity.ValidateToken(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      user.ID,
		Username:    user.Username,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := NewClient(conn, info)

	// Personal notification room, always joined.
	h.hub.Join(client, user.ID)
	if err := h.presence.Connect(ctx, user.ID); err != nil {
		log.Printf("presence connect error: %v", err)
	}

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(ctx, info, "ws_connect", "")

	go h.readLoop(client)
}

func (h *Handler) readLoop(client *Client) {
	// Detached from the handshake request; the connection outlives it.
	ctx := context.Background()
	info := client.info

	var closeReason string
	defer func() {
		h.hub.LeaveAll(client)
		if err := h.presence.Disconnect(ctx, info.UserID); err != nil {
			log.Printf("presence disconnect error: %v", err)
		}
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycle(ctx, info, "ws_disconnect", closeReason)
		client.conn.Close()
	}()

	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				h.publishLifecycle(ctx, info, "ws_error", closeReason)
			}
			return
		}

		var event ClientEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			client.Send(errorEvent("malformed event"))
			continue
		}
		h.dispatch(ctx, client, event)
	}
}

func (h *Handler) dispatch(ctx context.Context, client *Client, event ClientEvent) {
	switch event.Event {
	case EventJoinRoom:
		var payload joinRoomPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil || payload.RoomID == "" {
			client.Send(errorEvent("malformed event"))
			return
		}
		h.handleJoinRoom(ctx, client, payload.RoomID)
	case EventLeaveRoom:
		var payload joinRoomPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil || payload.RoomID == "" {
			client.Send(errorEvent("malformed event"))
			return
		}
		h.hub.Leave(client, payload.RoomID)
	case EventSendMessage:
		var payload sendMessagePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil || payload.ChatID == "" || payload.Content == "" {
			client.Send(errorEvent("malformed event"))
			return
		}
		h.handleSendMessage(ctx, client, payload)
	case EventTyping:
		var payload typingPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil || payload.ChatID == "" {
			client.Send(errorEvent("malformed event"))
			return
		}
		h.handleTyping(client, payload)
	default:
		client.Send(errorEvent("unknown event"))
	}
}

// handleJoinRoom verifies chat membership before subscribing the connection.
// Non-members get the same signal as a nonexistent chat.
func (h *Handler) handleJoinRoom(ctx context.Context, client *Client, roomID string) {
	member, err := h.chats.IsParticipant(ctx, roomID, client.UserID())
	if err != nil {
		log.Printf("join-room membership check failed: %v", err)
		client.Send(errorEvent("failed to join room"))
		return
	}
	if !member {
		client.Send(errorEvent(msgChatNotFound))
		return
	}
	h.hub.Join(client, roomID)
	observability.IncWSEvent("join_room")
}

// handleSendMessage persists and fans out a message. The per-chat lock keeps
// broadcast order identical to persistence order under concurrent senders.
func (h *Handler) handleSendMessage(ctx context.Context, client *Client, payload sendMessagePayload) {
	member, err := h.chats.IsParticipant(ctx, payload.ChatID, client.UserID())
	if err != nil {
		log.Printf("send-message membership check failed: %v", err)
		client.Send(errorEvent("failed to send message"))
		return
	}
	if !member {
		client.Send(errorEvent("not authorized to send messages to this chat"))
		return
	}

	h.hub.LockChat(payload.ChatID)
	defer h.hub.UnlockChat(payload.ChatID)

	msg, err := h.messages.CreateMessage(ctx, payload.ChatID, client.UserID(), payload.Content, payload.MessageType)
	if err != nil {
		log.Printf("failed to store message: %v", err)
		client.Send(errorEvent("failed to send message"))
		return
	}

	if err := h.chats.UpdateLastActivity(ctx, payload.ChatID); err != nil {
		log.Printf("failed to bump chat activity: %v", err)
	}

	full, err := h.messages.GetMessageWithSender(ctx, msg.ID)
	if err != nil {
		log.Printf("failed to reload message: %v", err)
		client.Send(errorEvent("failed to send message"))
		return
	}

	// Broadcast after the write commits; the sender receives its own copy.
	h.hub.Broadcast(payload.ChatID, ServerEvent{Event: EventNewMessage, Data: full}, nil)
	observability.IncMessagesSent()
	observability.IncWSEvent("send_message")
}

// handleTyping relays an ephemeral indicator to the chat room, sender
// excluded. Not persisted, best effort.
func (h *Handler) handleTyping(client *Client, payload typingPayload) {
	h.hub.Broadcast(payload.ChatID, ServerEvent{
		Event: EventUserTyping,
		Data: userTypingPayload{
			UserID:   client.info.UserID,
			Username: client.info.Username,
			IsTyping: payload.IsTyping,
		},
	}, client)
	observability.IncWSEvent("typing")
}

func (h *Handler) publishLifecycle(ctx context.Context, info ConnInfo, event, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, routingKeyWSEvents, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && (header[:7] == "Bearer " || header[:7] == "bearer ") {
		return header[7:]
	}
	return c.Query("token")
}
