package ws

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusCall struct {
	userID string
	online bool
}

type statusStoreSpy struct {
	mu    sync.Mutex
	calls []statusCall
}

func (s *statusStoreSpy) SetOnlineStatus(ctx context.Context, userID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, statusCall{userID: userID, online: online})
	return nil
}

func (s *statusStoreSpy) snapshot() []statusCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statusCall(nil), s.calls...)
}

func TestPresenceSingleConnection(t *testing.T) {
	store := &statusStoreSpy{}
	tracker := NewPresenceTracker(store)
	ctx := context.Background()

	require.NoError(t, tracker.Connect(ctx, "u1"))
	assert.True(t, tracker.Online("u1"))

	require.NoError(t, tracker.Disconnect(ctx, "u1"))
	assert.False(t, tracker.Online("u1"))

	assert.Equal(t, []statusCall{{"u1", true}, {"u1", false}}, store.snapshot())
}

func TestPresenceMultipleDevices(t *testing.T) {
	store := &statusStoreSpy{}
	tracker := NewPresenceTracker(store)
	ctx := context.Background()

	require.NoError(t, tracker.Connect(ctx, "u1"))
	require.NoError(t, tracker.Connect(ctx, "u1"))

	// Closing one of two devices must not flip the user offline.
	require.NoError(t, tracker.Disconnect(ctx, "u1"))
	assert.True(t, tracker.Online("u1"))
	assert.Equal(t, []statusCall{{"u1", true}}, store.snapshot())

	require.NoError(t, tracker.Disconnect(ctx, "u1"))
	assert.False(t, tracker.Online("u1"))
	assert.Equal(t, []statusCall{{"u1", true}, {"u1", false}}, store.snapshot())
}

func TestPresenceUnmatchedDisconnect(t *testing.T) {
	store := &statusStoreSpy{}
	tracker := NewPresenceTracker(store)
	ctx := context.Background()

	// A disconnect with no prior connect must not record an offline
	// transition.
	require.NoError(t, tracker.Disconnect(ctx, "u1"))
	assert.Empty(t, store.snapshot())

	// Nor may a duplicate disconnect after the refcount already hit zero.
	require.NoError(t, tracker.Connect(ctx, "u1"))
	require.NoError(t, tracker.Disconnect(ctx, "u1"))
	require.NoError(t, tracker.Disconnect(ctx, "u1"))
	assert.Equal(t, []statusCall{{"u1", true}, {"u1", false}}, store.snapshot())
}

func TestPresenceIndependentUsers(t *testing.T) {
	store := &statusStoreSpy{}
	tracker := NewPresenceTracker(store)
	ctx := context.Background()

	require.NoError(t, tracker.Connect(ctx, "u1"))
	require.NoError(t, tracker.Connect(ctx, "u2"))
	require.NoError(t, tracker.Disconnect(ctx, "u1"))

	assert.False(t, tracker.Online("u1"))
	assert.True(t, tracker.Online("u2"))
}
