package ws

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Client is one live websocket connection. Writes are serialized by the
// client's mutex because broadcasts and per-connection error replies can
// race on the same conn.
type Client struct {
	conn *websocket.Conn
	info ConnInfo

	writeMu sync.Mutex
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, info ConnInfo) *Client {
	return &Client{conn: conn, info: info}
}

// UserID returns the authenticated user behind the connection.
func (c *Client) UserID() string {
	return c.info.UserID
}

// Send writes one JSON event to the connection.
func (c *Client) Send(event ServerEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(event)
}

// Hub maintains broadcast groups: one room per chat plus one always-joined
// personal room per user, keyed by user id.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool

	// chatLocks serializes persist-then-broadcast per chat so delivery
	// order matches persistence order. Entries live only while a sender
	// holds or waits on them, so the table is bounded by in-flight sends.
	lockMu    sync.Mutex
	chatLocks map[string]*chatLock
}

type chatLock struct {
	mu      sync.Mutex
	holders int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:     make(map[string]map[*Client]bool),
		chatLocks: make(map[string]*chatLock),
	}
}

// Join adds a client to a room's broadcast group.
func (h *Hub) Join(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
}

// Leave removes a client from a room's broadcast group.
func (h *Hub) Leave(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(client, roomID)
}

func (h *Hub) leaveLocked(client *Client, roomID string) {
	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// LeaveAll removes a client from every room it joined.
func (h *Hub) LeaveAll(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID := range h.rooms {
		h.leaveLocked(client, roomID)
	}
}

// RoomSize reports how many connections a room currently holds.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// InRoom reports whether the client currently belongs to the room.
func (h *Hub) InRoom(client *Client, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID][client]
}

// Broadcast delivers an event to every connection in the room, skipping
// exclude when non-nil. Connections with failed writes are evicted.
func (h *Hub) Broadcast(roomID string, event ServerEvent, exclude *Client) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		if client != exclude {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.Send(event); err != nil {
			log.Printf("websocket write error: %v", err)
			client.conn.Close()
			h.LeaveAll(client)
		}
	}
}

// LockChat acquires the per-chat mutex held across persist and broadcast.
func (h *Hub) LockChat(chatID string) {
	h.lockMu.Lock()
	lock, ok := h.chatLocks[chatID]
	if !ok {
		lock = &chatLock{}
		h.chatLocks[chatID] = lock
	}
	lock.holders++
	h.lockMu.Unlock()

	lock.mu.Lock()
}

// UnlockChat releases the per-chat mutex, dropping the table entry once the
// last holder or waiter is gone.
func (h *Hub) UnlockChat(chatID string) {
	h.lockMu.Lock()
	defer h.lockMu.Unlock()

	lock := h.chatLocks[chatID]
	lock.mu.Unlock()
	lock.holders--
	if lock.holders == 0 {
		delete(h.chatLocks, chatID)
	}
}
