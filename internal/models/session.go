package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionStatus is the lifecycle state of a chat session.
type SessionStatus string

const (
	StatusActive        SessionStatus = "active"
	StatusClosed        SessionStatus = "closed"
	StatusPendingReopen SessionStatus = "pending_reopen"
)

// Role is the fixed role a participant holds in a session.
type Role string

const (
	// RoleEmployer is the initiator (participant A).
	RoleEmployer Role = "employer"
	// RoleCandidate is the responder (participant B).
	RoleCandidate Role = "candidate"
)

// Session is a two-party conversation between an employer and a candidate
// about one job. Roles never change after creation.
type Session struct {
	// ID is the unique identifier of the session (UUID).
	ID string `gorm:"type:uuid;primaryKey" json:"id"`
	// EmployerID is participant A, the initiator.
	EmployerID string `gorm:"type:text;not null;index;uniqueIndex:idx_session_pair_subject,priority:1" json:"employer_id"`
	// CandidateID is participant B, the responder.
	CandidateID string `gorm:"type:text;not null;index;uniqueIndex:idx_session_pair_subject,priority:2" json:"candidate_id"`
	// SubjectRef references the job the session is about.
	SubjectRef string `gorm:"type:text;not null;uniqueIndex:idx_session_pair_subject,priority:3" json:"subject_ref"`
	// SubjectTitle is display metadata captured once, at creation.
	SubjectTitle string `gorm:"type:text" json:"subject_title"`

	Status            SessionStatus `gorm:"type:text;not null;default:active" json:"status"`
	ClosedBy          *string       `gorm:"type:text" json:"closed_by,omitempty"`
	ClosedAt          *time.Time    `json:"closed_at,omitempty"`
	ReopenRequestedBy *string       `gorm:"type:text" json:"reopen_requested_by,omitempty"`
	ReopenRequestedAt *time.Time    `json:"reopen_requested_at,omitempty"`

	// LastActivityAt orders session lists; bumped by messages and transitions.
	LastActivityAt time.Time `gorm:"not null;index" json:"last_activity_at"`
	// LastMessageID is the highest message id assigned in this session.
	LastMessageID uint64 `gorm:"not null;default:0" json:"last_message_id"`
	// Version is incremented on every committed lifecycle transition and is
	// the compare-and-set token for them. Messages do not change it.
	Version int64 `gorm:"not null;default:1" json:"version"`

	CreatedAt time.Time `json:"created_at"`
}

func (Session) TableName() string { return "chat_sessions" }

// BeforeCreate generates the session UUID if it was not set.
func (s *Session) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return
}

// IsParticipant reports whether userID is one of the two participants.
func (s *Session) IsParticipant(userID string) bool {
	return userID != "" && (userID == s.EmployerID || userID == s.CandidateID)
}

// RoleOf returns the role userID holds in the session.
func (s *Session) RoleOf(userID string) (Role, bool) {
	switch userID {
	case "":
		return "", false
	case s.EmployerID:
		return RoleEmployer, true
	case s.CandidateID:
		return RoleCandidate, true
	}
	return "", false
}

// Counterpart returns the other participant, or "" if userID is not a participant.
func (s *Session) Counterpart(userID string) string {
	switch userID {
	case s.EmployerID:
		return s.CandidateID
	case s.CandidateID:
		return s.EmployerID
	}
	return ""
}

// Participants returns both participant ids, employer first.
func (s *Session) Participants() []string {
	return []string{s.EmployerID, s.CandidateID}
}

// Clone returns a deep copy; pointer fields are not shared.
func (s *Session) Clone() *Session {
	c := *s
	c.ClosedBy = clonePtr(s.ClosedBy)
	c.ClosedAt = clonePtr(s.ClosedAt)
	c.ReopenRequestedBy = clonePtr(s.ReopenRequestedBy)
	c.ReopenRequestedAt = clonePtr(s.ReopenRequestedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
