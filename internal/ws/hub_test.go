package ws

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubJoinAndLeave(t *testing.T) {
	hub := NewHub()
	client := NewClient(nil, ConnInfo{UserID: "u1"})

	hub.Join(client, "chat-1")
	assert.Equal(t, 1, hub.RoomSize("chat-1"))
	assert.True(t, hub.InRoom(client, "chat-1"))

	hub.Leave(client, "chat-1")
	assert.Equal(t, 0, hub.RoomSize("chat-1"))
	assert.False(t, hub.InRoom(client, "chat-1"))

	hub.mu.RLock()
	_, exists := hub.rooms["chat-1"]
	hub.mu.RUnlock()
	assert.False(t, exists, "empty room should be removed")
}

func TestHubLeaveAll(t *testing.T) {
	hub := NewHub()
	a := NewClient(nil, ConnInfo{UserID: "u1"})
	b := NewClient(nil, ConnInfo{UserID: "u2"})

	hub.Join(a, "chat-1")
	hub.Join(a, "chat-2")
	hub.Join(b, "chat-1")

	hub.LeaveAll(a)
	assert.False(t, hub.InRoom(a, "chat-1"))
	assert.False(t, hub.InRoom(a, "chat-2"))
	assert.True(t, hub.InRoom(b, "chat-1"))
	assert.Equal(t, 1, hub.RoomSize("chat-1"))
	assert.Equal(t, 0, hub.RoomSize("chat-2"))
}

func TestHubLeaveUnknownRoom(t *testing.T) {
	hub := NewHub()
	client := NewClient(nil, ConnInfo{UserID: "u1"})

	hub.Leave(client, "nope")
	assert.Equal(t, 0, hub.RoomSize("nope"))
}

func TestHubChatLockSerializesSenders(t *testing.T) {
	hub := NewHub()

	// Each sender appends a persist marker and a broadcast marker under the
	// chat lock; interleaved markers would mean broadcast order can diverge
	// from persistence order.
	var sequence []int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			hub.LockChat("chat-1")
			defer hub.UnlockChat("chat-1")
			sequence = append(sequence, n, n)
		}(i)
	}
	wg.Wait()

	assert.Len(t, sequence, 100)
	for i := 0; i < len(sequence); i += 2 {
		assert.Equal(t, sequence[i], sequence[i+1])
	}
}

func TestHubChatLockTableBounded(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		chatID := "chat-" + string(rune('a'+i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.LockChat(chatID)
			hub.UnlockChat(chatID)
		}()
	}
	wg.Wait()

	hub.lockMu.Lock()
	remaining := len(hub.chatLocks)
	hub.lockMu.Unlock()
	assert.Equal(t, 0, remaining, "released chat locks must not accumulate")
}
