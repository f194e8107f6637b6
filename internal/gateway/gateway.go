// Package gateway serves the read side that polling clients use to detect
// new messages and state changes. It keeps no per-client state: every call
// reads the primary store.
package gateway

import (
	"context"
	"fmt"
	"time"

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
	// PresenceTTL is how long a read keeps the viewer "online".
	PresenceTTL time.Duration
}

func NewService(s storage.Storage, n notify.Notifier, polling config.PollingConfig) *Service {
	return &Service{Storage: s, Notifier: n, PresenceTTL: polling.PresenceTTL()}
}

// ListSessions returns every session viewerID takes part in, most recently
// active first.
func (g *Service) ListSessions(ctx context.Context, viewerID string) ([]models.SessionSummary, error) {
	if viewerID == "" {
		return nil, fmt.Errorf("viewer is required: %w", chaterr.ErrInvalidInput)
	}

	sessions, err := g.Storage.ListSessionsForUser(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	g.touch(ctx, viewerID)

	out := make([]models.SessionSummary, 0, len(sessions))
	if len(sessions) == 0 {
		return out, nil
	}

	ids := make([]string, len(sessions))
	for i := range sessions {
		ids[i] = sessions[i].ID
	}
	unread, err := g.Storage.UnreadCounts(ctx, viewerID, ids)
	if err != nil {
		return nil, err
	}
	last, err := g.Storage.LastMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	for i := range sessions {
		out = append(out, summarize(&sessions[i], viewerID, unread, last))
	}
	return out, nil
}

// GetSession returns one session as seen by viewerID.
func (g *Service) GetSession(ctx context.Context, sessionID, viewerID string) (*models.SessionSummary, error) {
	sess, err := g.participantSession(ctx, sessionID, viewerID)
	if err != nil {
		return nil, err
	}
	g.touch(ctx, viewerID)

	ids := []string{sess.ID}
	unread, err := g.Storage.UnreadCounts(ctx, viewerID, ids)
	if err != nil {
		return nil, err
	}
	last, err := g.Storage.LastMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	sum := summarize(sess, viewerID, unread, last)
	return &sum, nil
}

// ListMessages returns the messages of a session in ascending id order.
// With afterID > 0 only newer messages are returned.
func (g *Service) ListMessages(ctx context.Context, sessionID, viewerID string, afterID uint64) ([]models.Message, error) {
	if _, err := g.participantSession(ctx, sessionID, viewerID); err != nil {
		return nil, err
	}
	g.touch(ctx, viewerID)

	return g.Storage.ListMessages(ctx, sessionID, afterID)
}

func (g *Service) participantSession(ctx context.Context, sessionID, viewerID string) (*models.Session, error) {
	sess, err := g.Storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsParticipant(viewerID) {
		return nil, fmt.Errorf("read session %s: %w", sessionID, chaterr.ErrNotParticipant)
	}
	return sess, nil
}

func (g *Service) touch(ctx context.Context, viewerID string) {
	if g.Notifier == nil || g.PresenceTTL <= 0 {
		return
	}
	if err := g.Notifier.Touch(ctx, viewerID, g.PresenceTTL); err != nil {
		log.Debug().Err(err).Str("user_id", viewerID).Msg("presence refresh failed")
	}
}

func summarize(s *models.Session, viewerID string, unread map[string]int, last map[string]models.Message) models.SessionSummary {
	role, _ := s.RoleOf(viewerID)
	sum := models.SessionSummary{
		Session:     *s,
		Role:        role,
		Counterpart: s.Counterpart(viewerID),
		UnreadCount: unread[s.ID],
	}
	if m, ok := last[s.ID]; ok {
		sum.LastMessage = models.NewPreview(m, config.PreviewLength)
	}
	return sum
}
