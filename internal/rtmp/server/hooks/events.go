// Event types emitted by the handshake server.
package hooks

import (
	"time"
)

// EventType represents the type of connection event that occurred
type EventType string

const (
	EventConnectionAccept  EventType = "connection_accept"
	EventHandshakeComplete EventType = "handshake_complete"
	EventHandshakeFailed   EventType = "handshake_failed"
	EventConnectionClose   EventType = "connection_close"
)

// Event represents a single connection event that can trigger hooks
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp int64          `json:"timestamp"`
	ConnID    string         `json:"conn_id,omitempty"`
	PeerAddr  string         `json:"peer_addr,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      make(map[string]any),
	}
}

// WithConnID sets the connection ID for the event
func (e *Event) WithConnID(connID string) *Event {
	e.ConnID = connID
	return e
}

// WithPeerAddr sets the remote address for the event
func (e *Event) WithPeerAddr(addr string) *Event {
	e.PeerAddr = addr
	return e
}

// WithData adds data fields to the event
func (e *Event) WithData(key string, value any) *Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// String returns a human-readable string representation of the event
func (e *Event) String() string {
	switch {
	case e.ConnID != "":
		return string(e.Type) + ":" + e.ConnID
	case e.PeerAddr != "":
		return string(e.Type) + ":" + e.PeerAddr
	}
	return string(e.Type)
}
