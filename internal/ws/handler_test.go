package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-backend/internal/auth"
	"chat-backend/internal/mocks"
	"chat-backend/internal/models"
)

type wsTestEnv struct {
	hub      *Hub
	users    *mocks.UserRepositoryMock
	chats    *mocks.ChatRepositoryMock
	messages *mocks.MessageRepositoryMock
	tokens   *auth.TokenManager
	server   *httptest.Server
}

func setupWSServer(t *testing.T) *wsTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &wsTestEnv{
		hub:      NewHub(),
		users:    new(mocks.UserRepositoryMock),
		chats:    new(mocks.ChatRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		tokens:   auth.NewTokenManager("test-secret"),
	}
	env.users.On("SetOnlineStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	identity := auth.NewService(env.users, new(mocks.OTPRepositoryMock), new(mocks.MailerMock), env.tokens)
	handler := NewHandler(env.hub, NewPresenceTracker(env.users), identity, env.chats, env.messages)

	router := gin.New()
	router.GET("/ws", handler.Handle)
	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)
	return env
}

func (env *wsTestEnv) dial(t *testing.T, userID, username string) *websocket.Conn {
	t.Helper()
	env.users.On("GetUser", mock.Anything, userID).
		Return(models.User{ID: userID, Username: username}, nil)

	token, err := env.tokens.Sign(userID)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// joinChat subscribes the connection to the chat room and waits until the
// hub has registered it.
func (env *wsTestEnv) joinChat(t *testing.T, conn *websocket.Conn, chatID string, want int) {
	t.Helper()
	sendEvent(t, conn, EventJoinRoom, joinRoomPayload{RoomID: chatID})
	require.Eventually(t, func() bool {
		return env.hub.RoomSize(chatID) == want
	}, 2*time.Second, 10*time.Millisecond)
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ClientEvent{Event: event, Data: raw}))
}

type receivedEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) receivedEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event receivedEvent
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var event receivedEvent
	err := conn.ReadJSON(&event)
	require.Error(t, err, "expected no event, received %q", event.Event)
}

func TestSendMessageNonMemberRejected(t *testing.T) {
	env := setupWSServer(t)

	member := env.dial(t, "u2", "bob")
	env.chats.On("IsParticipant", mock.Anything, "c1", "u2").Return(true, nil).Once()
	env.joinChat(t, member, "c1", 1)

	outsider := env.dial(t, "u1", "alice")
	env.chats.On("IsParticipant", mock.Anything, "c1", "u1").Return(false, nil).Once()
	sendEvent(t, outsider, EventSendMessage, sendMessagePayload{ChatID: "c1", Content: "hi"})

	// The rejection goes only to the offending connection; the joined
	// member hears nothing and nothing is persisted.
	event := readEvent(t, outsider)
	assert.Equal(t, EventError, event.Event)
	assert.Contains(t, string(event.Data), "not authorized")

	assertSilent(t, member)
	env.messages.AssertNotCalled(t, "CreateMessage",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	env.chats.AssertExpectations(t)
}

func TestJoinRoomNonMemberRejected(t *testing.T) {
	env := setupWSServer(t)

	outsider := env.dial(t, "u1", "alice")
	env.chats.On("IsParticipant", mock.Anything, "c1", "u1").Return(false, nil).Once()
	sendEvent(t, outsider, EventJoinRoom, joinRoomPayload{RoomID: "c1"})

	event := readEvent(t, outsider)
	assert.Equal(t, EventError, event.Event)
	assert.Contains(t, string(event.Data), "chat not found or access denied")
	assert.Equal(t, 0, env.hub.RoomSize("c1"))
}

func TestSendMessageBroadcastToRoom(t *testing.T) {
	env := setupWSServer(t)

	alice := env.dial(t, "u1", "alice")
	bob := env.dial(t, "u2", "bob")
	env.chats.On("IsParticipant", mock.Anything, "c1", "u1").Return(true, nil).Twice()
	env.chats.On("IsParticipant", mock.Anything, "c1", "u2").Return(true, nil).Once()
	env.joinChat(t, alice, "c1", 1)
	env.joinChat(t, bob, "c1", 2)

	stored := models.Message{ID: "m1", SenderID: "u1", ChatID: "c1", Content: "hello", MessageType: "text"}
	env.messages.On("CreateMessage", mock.Anything, "c1", "u1", "hello", "").
		Return(stored, nil).Once()
	env.chats.On("UpdateLastActivity", mock.Anything, "c1").Return(nil).Once()
	env.messages.On("GetMessageWithSender", mock.Anything, "m1").
		Return(models.MessageWithSender{
			Message: stored,
			Sender:  models.PublicUser{ID: "u1", Username: "alice"},
		}, nil).Once()

	sendEvent(t, alice, EventSendMessage, sendMessagePayload{ChatID: "c1", Content: "hello"})

	// Both room members receive the message, the sender included.
	for _, conn := range []*websocket.Conn{alice, bob} {
		event := readEvent(t, conn)
		assert.Equal(t, EventNewMessage, event.Event)
		assert.Contains(t, string(event.Data), `"content":"hello"`)
		assert.Contains(t, string(event.Data), `"username":"alice"`)
	}
	env.messages.AssertExpectations(t)
	env.chats.AssertExpectations(t)
}

func TestTypingExcludesSender(t *testing.T) {
	env := setupWSServer(t)

	alice := env.dial(t, "u1", "alice")
	bob := env.dial(t, "u2", "bob")
	env.chats.On("IsParticipant", mock.Anything, "c1", "u1").Return(true, nil).Once()
	env.chats.On("IsParticipant", mock.Anything, "c1", "u2").Return(true, nil).Once()
	env.joinChat(t, alice, "c1", 1)
	env.joinChat(t, bob, "c1", 2)

	sendEvent(t, alice, EventTyping, typingPayload{ChatID: "c1", IsTyping: true})

	event := readEvent(t, bob)
	assert.Equal(t, EventUserTyping, event.Event)
	assert.Contains(t, string(event.Data), `"userId":"u1"`)
	assert.Contains(t, string(event.Data), `"isTyping":true`)

	assertSilent(t, alice)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	env := setupWSServer(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=garbage"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
