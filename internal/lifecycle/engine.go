package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobchat/backend/internal/chaterr"
	"jobchat/backend/internal/config"
	"jobchat/backend/internal/models"
	"jobchat/backend/internal/notify"
	"jobchat/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

// SubjectRegistry resolves display metadata of a job at session creation.
type SubjectRegistry interface {
	Title(ctx context.Context, subjectRef string) (string, error)
}

// Command is one lifecycle request.
type Command struct {
	SessionID string
	Actor     string
	Event     Event
	// IfVersion, when non-zero, must equal the stored version or the command
	// fails with ErrStaleState without being applied.
	IfVersion int64
}

// Engine applies lifecycle commands. Every transition is a compare-and-set on
// (status, version); a lost race surfaces as chaterr.ErrStaleState and is
// never retried here.
type Engine struct {
	Storage  storage.Storage
	Notifier notify.Notifier
	Subjects SubjectRegistry

	now func() time.Time
}

func NewEngine(s storage.Storage, n notify.Notifier) *Engine {
	return &Engine{
		Storage:  s,
		Notifier: n,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for transition timestamps.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// CreateOrGetSession returns the session between the employer and the
// candidate about subjectRef, creating it on first contact.
func (e *Engine) CreateOrGetSession(ctx context.Context, employerID, candidateID, subjectRef, subjectTitle string) (*models.Session, bool, error) {
	employerID = strings.TrimSpace(employerID)
	candidateID = strings.TrimSpace(candidateID)
	subjectRef = strings.TrimSpace(subjectRef)

	if employerID == "" || candidateID == "" || subjectRef == "" {
		return nil, false, fmt.Errorf("participants and subject are required: %w", chaterr.ErrInvalidInput)
	}
	if employerID == candidateID {
		return nil, false, fmt.Errorf("participants must differ: %w", chaterr.ErrInvalidInput)
	}
	if employerID == config.SystemSenderID || candidateID == config.SystemSenderID {
		return nil, false, fmt.Errorf("%q is reserved: %w", config.SystemSenderID, chaterr.ErrInvalidInput)
	}

	if e.Subjects != nil {
		if title, err := e.Subjects.Title(ctx, subjectRef); err != nil {
			log.Warn().Err(err).Str("subject_ref", subjectRef).Msg("subject registry lookup failed, keeping client title")
		} else if title != "" {
			subjectTitle = title
		}
	}

	now := e.now()
	session, created, err := e.Storage.CreateOrGetSession(ctx, &models.Session{
		EmployerID:     employerID,
		CandidateID:    candidateID,
		SubjectRef:     subjectRef,
		SubjectTitle:   subjectTitle,
		Status:         models.StatusActive,
		LastActivityAt: now,
		Version:        1,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		log.Info().
			Str("session_id", session.ID).
			Str("employer_id", employerID).
			Str("candidate_id", candidateID).
			Str("subject_ref", subjectRef).
			Msg("session created")
		notify.Broadcast(ctx, e.Notifier, session, models.SignalLifecycle)
	}
	return session, created, nil
}

func (e *Engine) Close(ctx context.Context, sessionID, actor string) (*models.Session, error) {
	return e.Apply(ctx, Command{SessionID: sessionID, Actor: actor, Event: EventClose})
}

func (e *Engine) RequestReopen(ctx context.Context, sessionID, actor string) (*models.Session, error) {
	return e.Apply(ctx, Command{SessionID: sessionID, Actor: actor, Event: EventRequestReopen})
}

func (e *Engine) AcceptReopen(ctx context.Context, sessionID, actor string) (*models.Session, error) {
	return e.Apply(ctx, Command{SessionID: sessionID, Actor: actor, Event: EventAcceptReopen})
}

// Delete removes the session and all of its messages. Either participant may
// delete unilaterally.
func (e *Engine) Delete(ctx context.Context, sessionID, actor string) error {
	_, err := e.Apply(ctx, Command{SessionID: sessionID, Actor: actor, Event: EventDelete})
	return err
}

// Apply runs cmd. For Delete the returned session is the last state before removal.
func (e *Engine) Apply(ctx context.Context, cmd Command) (*models.Session, error) {
	cur, err := e.Storage.GetSession(ctx, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	if !cur.IsParticipant(cmd.Actor) {
		return nil, fmt.Errorf("%s session %s: %w", cmd.Event, cmd.SessionID, chaterr.ErrNotParticipant)
	}
	if cmd.IfVersion != 0 && cmd.IfVersion != cur.Version {
		return nil, fmt.Errorf("%s session %s: have version %d, want %d: %w",
			cmd.Event, cmd.SessionID, cur.Version, cmd.IfVersion, chaterr.ErrStaleState)
	}

	if cmd.Event == EventDelete {
		if err := e.Storage.DeleteSession(ctx, cur.ID); err != nil {
			return nil, err
		}
		log.Info().Str("session_id", cur.ID).Str("actor", cmd.Actor).Msg("session deleted")
		notify.Broadcast(ctx, e.Notifier, cur, models.SignalDeleted)
		return cur, nil
	}

	now := e.now()
	if now.Before(cur.LastActivityAt) {
		now = cur.LastActivityAt
	}

	out, err := Transition(cur, cmd.Event, cmd.Actor, now)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", cmd.SessionID, err)
	}
	if out.Next == nil {
		return cur, nil
	}

	var notice *models.Message
	if out.Notice != "" {
		notice = &models.Message{
			SenderID: config.SystemSenderID,
			Kind:     out.Notice,
			Body:     fmt.Sprintf(config.NoticeBodies[string(out.Notice)], cmd.Actor),
		}
	}

	updated, err := e.Storage.CompareAndSwapSession(ctx, out.Next, cur.Status, cur.Version, notice)
	if errors.Is(err, chaterr.ErrStaleState) && cmd.Event == EventRequestReopen {
		if pending, ok := e.reopenAlreadyRequested(ctx, cmd); ok {
			return pending, nil
		}
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", updated.ID).
		Str("actor", cmd.Actor).
		Str("event", string(cmd.Event)).
		Str("from", string(cur.Status)).
		Str("to", string(updated.Status)).
		Int64("version", updated.Version).
		Msg("session transition")
	notify.Broadcast(ctx, e.Notifier, updated, models.SignalLifecycle)

	return updated, nil
}

// reopenAlreadyRequested reports the case where the counterpart's reopen
// request committed first: the handshake the actor wanted is already pending,
// so the lost compare-and-set is not an error.
func (e *Engine) reopenAlreadyRequested(ctx context.Context, cmd Command) (*models.Session, bool) {
	fresh, err := e.Storage.GetSession(ctx, cmd.SessionID)
	if err != nil {
		return nil, false
	}
	if fresh.Status != models.StatusPendingReopen || fresh.ReopenRequestedBy == nil {
		return nil, false
	}
	if *fresh.ReopenRequestedBy == cmd.Actor || !fresh.IsParticipant(*fresh.ReopenRequestedBy) {
		return nil, false
	}
	log.Debug().
		Str("session_id", fresh.ID).
		Str("actor", cmd.Actor).
		Str("requested_by", *fresh.ReopenRequestedBy).
		Msg("reopen already requested by counterpart")
	return fresh, true
}
