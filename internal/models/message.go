package models

import "time"

// MessageKind classifies message content.
type MessageKind string

const (
	KindText                  MessageKind = "text"
	KindSystemClosed          MessageKind = "system_closed"
	KindSystemReopenRequested MessageKind = "system_reopen_requested"
	KindSystemReopened        MessageKind = "system_reopened"
)

// IsSystem reports whether the kind is a lifecycle notice rather than user content.
func (k MessageKind) IsSystem() bool {
	return k != KindText
}

// Message is one immutable entry of a session. Only its read set changes
// after creation, and that lives in MessageRead.
type Message struct {
	// ID is assigned by the store and strictly increases within a session.
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	// SessionID is the owning session.
	SessionID string `gorm:"type:uuid;not null;index:idx_session_msg,priority:1" json:"session_id"`
	// SenderID is a participant id, or config.SystemSenderID for notices.
	SenderID string `gorm:"type:text;not null;index:idx_session_msg,priority:2" json:"sender_id"`
	// Body is the trimmed text content.
	Body string `gorm:"type:text;not null" json:"body"`
	// Kind is "text" or one of the system notice kinds.
	Kind   MessageKind `gorm:"type:text;not null" json:"kind"`
	SentAt time.Time   `gorm:"not null" json:"sent_at"`

	// ReadBy is filled by the store when messages are listed.
	ReadBy []string `gorm:"-" json:"read_by"`
}

func (Message) TableName() string { return "chat_messages" }

// MessageRead records that ReaderID has seen MessageID. Rows are only ever
// inserted (never updated), so concurrent marks merge as a set union.
type MessageRead struct {
	MessageID uint64    `gorm:"primaryKey;autoIncrement:false"`
	ReaderID  string    `gorm:"primaryKey;type:text"`
	SessionID string    `gorm:"type:uuid;not null;index"`
	ReadAt    time.Time `gorm:"not null"`
}

func (MessageRead) TableName() string { return "chat_message_reads" }

// IsReadBy reports whether userID is in the message's read set.
// The sender has always read their own message.
func (m *Message) IsReadBy(userID string) bool {
	if m.SenderID == userID {
		return true
	}
	for _, r := range m.ReadBy {
		if r == userID {
			return true
		}
	}
	return false
}
