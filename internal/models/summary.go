package models

import (
	"time"
	"unicode/utf8"
)

// SessionSummary is a session as seen by one of its participants.
type SessionSummary struct {
	Session
	// Role is the viewer's role in the session.
	Role Role `json:"role"`
	// Counterpart is the other participant's id.
	Counterpart string `json:"counterpart_id"`
	// UnreadCount counts text messages from the counterpart the viewer has not read.
	UnreadCount int             `json:"unread_count"`
	LastMessage *MessagePreview `json:"last_message,omitempty"`
}

type MessagePreview struct {
	ID       uint64      `json:"id"`
	SenderID string      `json:"sender_id"`
	Body     string      `json:"body"`
	Kind     MessageKind `json:"kind"`
	SentAt   time.Time   `json:"sent_at"`
}

// NewPreview shortens the body of m to at most maxRunes runes.
func NewPreview(m Message, maxRunes int) *MessagePreview {
	return &MessagePreview{
		ID:       m.ID,
		SenderID: m.SenderID,
		Body:     Truncate(m.Body, maxRunes),
		Kind:     m.Kind,
		SentAt:   m.SentAt,
	}
}

// Truncate cuts s to maxRunes runes, appending "..." if it was longer.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxRunes]) + "..."
}

// SignalKind tells a listening client what changed.
type SignalKind string

const (
	SignalMessage   SignalKind = "message"
	SignalLifecycle SignalKind = "lifecycle"
	SignalRead      SignalKind = "read"
	SignalDeleted   SignalKind = "deleted"
)

// Signal is a hint that a session changed. It carries no content: clients
// react by polling the gateway out of cadence.
type Signal struct {
	UserID    string     `json:"-"`
	SessionID string     `json:"session_id"`
	Kind      SignalKind `json:"kind"`
	At        time.Time  `json:"at"`
}
