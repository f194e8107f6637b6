// Package exchange accepts messages into active sessions and tracks what each
// participant has read.
package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"jobchat/backend/internal/chaterr"
	"jobchat/backend/internal/config"
	"jobchat/backend/internal/models"
	"jobchat/backend/internal/notify"
	"jobchat/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

type Service struct {
	Storage  storage.Storage
	Notifier notify.Notifier
}

func NewService(s storage.Storage, n notify.Notifier) *Service {
	return &Service{Storage: s, Notifier: n}
}

// SendMessage appends a text message from senderID. The session must be
// active; a rejected message is not queued anywhere.
func (x *Service) SendMessage(ctx context.Context, sessionID, senderID, body string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("message body is empty: %w", chaterr.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(body); n > config.MaxMessageLength {
		return nil, fmt.Errorf("message body has %d characters, limit is %d: %w", n, config.MaxMessageLength, chaterr.ErrInvalidInput)
	}

	// 1. Fast rejection on a snapshot; AppendMessage re-checks under the session lock.
	sess, err := x.Storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsParticipant(senderID) {
		return nil, fmt.Errorf("send to session %s: %w", sessionID, chaterr.ErrNotParticipant)
	}
	if sess.Status != models.StatusActive {
		return nil, fmt.Errorf("send to session %s (%s): %w", sessionID, sess.Status, chaterr.ErrSessionNotActive)
	}

	// 2. Commit
	msg := &models.Message{
		SessionID: sessionID,
		SenderID:  senderID,
		Body:      body,
		Kind:      models.KindText,
	}
	updated, err := x.Storage.AppendMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("session_id", sessionID).
		Str("sender_id", senderID).
		Uint64("message_id", msg.ID).
		Msg("message stored")

	// 3. Side signals
	notify.Broadcast(ctx, x.Notifier, updated, models.SignalMessage)
	x.alertIfOffline(ctx, updated, msg)

	return msg, nil
}

// MarkRead marks every message up to and including uptoID as read by
// viewerID. Re-marking is a no-op; reads are never removed.
func (x *Service) MarkRead(ctx context.Context, sessionID, viewerID string, uptoID uint64) (int, error) {
	sess, err := x.Storage.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if !sess.IsParticipant(viewerID) {
		return 0, fmt.Errorf("mark read in session %s: %w", sessionID, chaterr.ErrNotParticipant)
	}

	n, err := x.Storage.MarkRead(ctx, sessionID, viewerID, uptoID)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		notify.Broadcast(ctx, x.Notifier, sess, models.SignalRead)
	}
	return n, nil
}

func (x *Service) alertIfOffline(ctx context.Context, sess *models.Session, msg *models.Message) {
	if x.Notifier == nil {
		return
	}
	recipient := sess.Counterpart(msg.SenderID)

	online, err := x.Notifier.IsOnline(ctx, recipient)
	if err != nil {
		log.Warn().Err(err).Str("user_id", recipient).Msg("presence lookup failed, skipping offline alert")
		return
	}
	if online {
		return
	}

	alert := notify.OfflineAlert{
		RecipientID:  recipient,
		SessionID:    sess.ID,
		SubjectRef:   sess.SubjectRef,
		SubjectTitle: sess.SubjectTitle,
		SenderID:     msg.SenderID,
		MessageID:    msg.ID,
		Preview:      models.Truncate(msg.Body, config.PreviewLength),
		At:           time.Now().UTC(),
	}
	if err := x.Notifier.EnqueueOfflineAlert(ctx, alert); err != nil {
		log.Warn().Err(err).
			Str("session_id", sess.ID).
			Str("user_id", recipient).
			Msg("failed to enqueue offline alert")
	}
}
