package ws

import (
	"time"

	"github.com/google/uuid"
)

// ConnInfo describes one live websocket connection for logging and events.
type ConnInfo struct {
	ConnID      string
	UserID      string
	Username    string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnID() string {
	return uuid.NewString()
}
