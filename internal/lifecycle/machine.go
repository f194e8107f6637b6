// Package lifecycle enforces the chat session state machine:
//
//	Active --Close--> Closed --RequestReopen--> PendingReopen --AcceptReopen(other party)--> Active
//
// Closing is unilateral, reopening needs the other participant's consent.
// Delete is allowed from any state and removes the session.
package lifecycle

import (
	"fmt"
	"time"

	"jobchat/backend/internal/chaterr"
	"jobchat/backend/internal/models"
)

type Event string

const (
	EventClose         Event = "close"
	EventRequestReopen Event = "request_reopen"
	EventAcceptReopen  Event = "accept_reopen"
	EventDelete        Event = "delete"
)

// Outcome is the result of applying an event to a session snapshot.
type Outcome struct {
	// Next is the state to write, nil when nothing changes.
	Next *models.Session
	// Notice is the kind of system message to append, "" for none.
	Notice models.MessageKind
}

// Transition computes the effect of ev on cur. It does not check
// participation and never mutates cur. Delete is not a state change and is
// rejected here; the engine handles it.
func Transition(cur *models.Session, ev Event, actor string, now time.Time) (Outcome, error) {
	switch ev {
	case EventClose:
		if cur.Status != models.StatusActive {
			return Outcome{}, invalid(cur, ev)
		}
		next := cur.Clone()
		next.Status = models.StatusClosed
		next.ClosedBy = &actor
		next.ClosedAt = &now
		next.ReopenRequestedBy = nil
		next.ReopenRequestedAt = nil
		next.LastActivityAt = now
		return Outcome{Next: next, Notice: models.KindSystemClosed}, nil

	case EventRequestReopen:
		switch cur.Status {
		case models.StatusClosed:
			next := cur.Clone()
			next.Status = models.StatusPendingReopen
			next.ReopenRequestedBy = &actor
			next.ReopenRequestedAt = &now
			next.LastActivityAt = now
			return Outcome{Next: next, Notice: models.KindSystemReopenRequested}, nil

		case models.StatusPendingReopen:
			if cur.ReopenRequestedBy != nil && *cur.ReopenRequestedBy == actor {
				// Re-request by the same participant only refreshes the timestamp.
				next := cur.Clone()
				next.ReopenRequestedAt = &now
				next.LastActivityAt = now
				return Outcome{Next: next}, nil
			}
			// The other participant asked first; the handshake now waits on this actor.
			return Outcome{}, nil
		}
		return Outcome{}, invalid(cur, ev)

	case EventAcceptReopen:
		if cur.Status != models.StatusPendingReopen {
			return Outcome{}, invalid(cur, ev)
		}
		if cur.ReopenRequestedBy == nil || *cur.ReopenRequestedBy == actor {
			return Outcome{}, fmt.Errorf("%s by the requesting participant: %w", ev, chaterr.ErrInvalidTransition)
		}
		next := cur.Clone()
		next.Status = models.StatusActive
		next.ClosedBy = nil
		next.ClosedAt = nil
		next.ReopenRequestedBy = nil
		next.ReopenRequestedAt = nil
		next.LastActivityAt = now
		return Outcome{Next: next, Notice: models.KindSystemReopened}, nil
	}

	return Outcome{}, fmt.Errorf("unknown event %q: %w", ev, chaterr.ErrInvalidTransition)
}

func invalid(cur *models.Session, ev Event) error {
	return fmt.Errorf("%s from %s: %w", ev, cur.Status, chaterr.ErrInvalidTransition)
}

// ParseEvent maps the wire name of an event.
func ParseEvent(s string) (Event, error) {
	switch ev := Event(s); ev {
	case EventClose, EventRequestReopen, EventAcceptReopen, EventDelete:
		return ev, nil
	}
	return "", fmt.Errorf("unknown event %q: %w", s, chaterr.ErrInvalidInput)
}
