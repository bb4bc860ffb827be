package websocket

import (
	"time"

	"github.com/coder/websocket"
)

// Message types pushed to browsers.
const (
	MessageChanged = "changed"
	MessageRemoved = "removed"
)

// Client represents a WebSocket client connection
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUpdate returns a message about the document name.
func NewUpdate(name string, gone bool) UpdateMessage {
	msgType := MessageChanged
	if gone {
		msgType = MessageRemoved
	}

	return UpdateMessage{Type: msgType, Target: name, Timestamp: time.Now()}
}
