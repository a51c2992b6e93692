package ws

import (
	"context"
	"log"
	"sync"

	"chat-backend/internal/observability"
)

// StatusStore persists the online flag and last-seen timestamp.
type StatusStore interface {
	SetOnlineStatus(ctx context.Context, userID string, online bool) error
}

// PresenceTracker derives each user's online state from a live-connection
// reference count. A user with several devices stays online until the last
// connection closes; only the 0->1 and 1->0 transitions touch the store.
type PresenceTracker struct {
	mu     sync.Mutex
	counts map[string]int
	store  StatusStore
}

// NewPresenceTracker constructs a tracker over the given store.
func NewPresenceTracker(store StatusStore) *PresenceTracker {
	return &PresenceTracker{counts: make(map[string]int), store: store}
}

// Connect registers a live connection and flips the user online on the
// first one.
func (p *PresenceTracker) Connect(ctx context.Context, userID string) error {
	p.mu.Lock()
	p.counts[userID]++
	first := p.counts[userID] == 1
	p.mu.Unlock()

	if !first {
		return nil
	}
	observability.IncOnlineUsers()
	if err := p.store.SetOnlineStatus(ctx, userID, true); err != nil {
		log.Printf("failed to persist online status for %s: %v", userID, err)
		return err
	}
	return nil
}

// Disconnect releases a live connection and flips the user offline when the
// count reaches zero.
func (p *PresenceTracker) Disconnect(ctx context.Context, userID string) error {
	p.mu.Lock()
	count, ok := p.counts[userID]
	if !ok {
		// Unmatched disconnect; the user was never online, so there is no
		// transition to record.
		p.mu.Unlock()
		return nil
	}
	count--
	last := count == 0
	if last {
		delete(p.counts, userID)
	} else {
		p.counts[userID] = count
	}
	p.mu.Unlock()

	if !last {
		return nil
	}
	observability.DecOnlineUsers()
	if err := p.store.SetOnlineStatus(ctx, userID, false); err != nil {
		log.Printf("failed to persist offline status for %s: %v", userID, err)
		return err
	}
	return nil
}

// Online reports whether the user has at least one live connection.
func (p *PresenceTracker) Online(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0
}
