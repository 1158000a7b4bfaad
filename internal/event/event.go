// Package event defines what a session pushes to its subscribers.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminates outbound messages.
type Type string

const (
	// TypeFrame carries a redraw of connectors and node state.
	TypeFrame Type = "frame"
	// TypeNotice carries a user-facing warning or info line.
	TypeNotice Type = "notice"
	// TypeClosed is the last message of a session.
	TypeClosed Type = "closed"
)

// Level grades a notice.
type Level string

const (
	LevelInfo Level = "info"
	LevelWarn Level = "warn"
)

// Message is the envelope every subscriber receives.
type Message struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	SessionID  string    `json:"session_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Frame      *Frame    `json:"frame,omitempty"`
	Notice     *Notice   `json:"notice,omitempty"`
	Reason     string    `json:"reason,omitempty"` // closed only
}

// NodeState is a node whose lock or selected state changed.
type NodeState struct {
	ID       string `json:"id"`
	Selected bool   `json:"selected"`
	Locked   bool   `json:"locked"`
}

// ConnectorPaint is one connector to draw or recolour.
type ConnectorPaint struct {
	Key         string `json:"key"`
	D           string `json:"d,omitempty"`
	Highlighted bool   `json:"highlighted"`
}

// Frame is one coalesced redraw. Full frames replace every connector; partial
// frames carry only connectors whose highlight changed.
type Frame struct {
	Seq        uint64           `json:"seq"`
	Full       bool             `json:"full"`
	Nodes      []NodeState      `json:"nodes"`
	Connectors []ConnectorPaint `json:"connectors"`
	Pools      map[string]int   `json:"pools"`
	Complete   bool             `json:"complete"`
}

// Notice is a user-facing message, such as a refused deselect.
type Notice struct {
	Level   Level  `json:"level"`
	Text    string `json:"text"`
	Subject string `json:"subject,omitempty"`
}

// NewFrame wraps f for session sessionID.
func NewFrame(sessionID string, f Frame) Message {
	return Message{ID: uuid.NewString(), Type: TypeFrame, SessionID: sessionID, OccurredAt: time.Now().UTC(), Frame: &f}
}

// NewNotice wraps n for session sessionID.
func NewNotice(sessionID string, n Notice) Message {
	return Message{ID: uuid.NewString(), Type: TypeNotice, SessionID: sessionID, OccurredAt: time.Now().UTC(), Notice: &n}
}

// NewClosed marks the end of session sessionID.
func NewClosed(sessionID, reason string) Message {
	return Message{ID: uuid.NewString(), Type: TypeClosed, SessionID: sessionID, OccurredAt: time.Now().UTC(), Reason: reason}
}
