// Package storage is the durable record of chat sessions, their messages and
// read receipts. Service is the PostgreSQL implementation (gorm); MemoryStore
// keeps everything in process and backs tests and the "memory" driver.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobchat/backend/internal/chaterr"
	"jobchat/backend/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Storage interface {
	// CreateOrGetSession returns the session for (employer, candidate,
	// subject), creating it from s if it does not exist yet. created reports
	// whether this call inserted the row.
	CreateOrGetSession(ctx context.Context, s *models.Session) (session *models.Session, created bool, err error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	// ListSessionsForUser returns the user's sessions, most recent activity first.
	ListSessionsForUser(ctx context.Context, userID string) ([]models.Session, error)

	// CompareAndSwapSession writes the lifecycle fields of next only if the
	// stored row still has expectStatus and expectVersion, and bumps the
	// version. A non-nil notice is appended in the same transaction.
	// Returns chaterr.ErrStaleState if the row moved on.
	CompareAndSwapSession(ctx context.Context, next *models.Session, expectStatus models.SessionStatus, expectVersion int64, notice *models.Message) (*models.Session, error)
	// DeleteSession purges the session with all its messages and receipts.
	DeleteSession(ctx context.Context, sessionID string) error

	// AppendMessage stores msg if the session is active, assigning its id and
	// sent time, and records the sender's read.
	AppendMessage(ctx context.Context, msg *models.Message) (*models.Session, error)
	// MarkRead adds readerID to every message with id <= uptoID. It returns
	// how many receipts were new.
	MarkRead(ctx context.Context, sessionID, readerID string, uptoID uint64) (int, error)
	// ListMessages returns messages with id > afterID in ascending id order,
	// with ReadBy filled.
	ListMessages(ctx context.Context, sessionID string, afterID uint64) ([]models.Message, error)
	// UnreadCounts counts, per session, text messages not sent by and not read by userID.
	UnreadCounts(ctx context.Context, userID string, sessionIDs []string) (map[string]int, error)
	// LastMessages returns the newest message of each session that has any.
	LastMessages(ctx context.Context, sessionIDs []string) (map[string]models.Message, error)

	Ping(ctx context.Context) error
}

type Service struct {
	DB *gorm.DB
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// wrapErr maps driver errors onto the core's error taxonomy. Domain errors
// raised inside transactions pass through untouched.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, chaterr.ErrNotFound)
	case errors.Is(err, chaterr.ErrNotFound),
		errors.Is(err, chaterr.ErrStaleState),
		errors.Is(err, chaterr.ErrSessionNotActive),
		errors.Is(err, chaterr.ErrNotParticipant),
		errors.Is(err, chaterr.ErrInvalidTransition),
		errors.Is(err, chaterr.ErrInvalidInput):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Error().Err(err).Str("op", op).Msg("storage failure")
	return fmt.Errorf("%s: %w: %w", op, chaterr.ErrUnavailable, err)
}

func (s *Service) CreateOrGetSession(ctx context.Context, in *models.Session) (*models.Session, bool, error) {
	key := models.Session{
		EmployerID:  in.EmployerID,
		CandidateID: in.CandidateID,
		SubjectRef:  in.SubjectRef,
	}

	var row models.Session
	result := s.DB.WithContext(ctx).Where(&key).Attrs(in).FirstOrCreate(&row)
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		// Хтось інший створив сесію між SELECT та INSERT, просто читаємо її.
		err := s.DB.WithContext(ctx).Where(&key).First(&row).Error
		return &row, false, wrapErr("create session", err)
	}
	if result.Error != nil {
		return nil, false, wrapErr("create session", result.Error)
	}

	return &row, result.RowsAffected > 0, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var row models.Session
	if err := s.DB.WithContext(ctx).Where("id = ?", sessionID).First(&row).Error; err != nil {
		return nil, wrapErr("get session", err)
	}
	return &row, nil
}

func (s *Service) ListSessionsForUser(ctx context.Context, userID string) ([]models.Session, error) {
	var rows []models.Session
	err := s.DB.WithContext(ctx).
		Where("employer_id = ? OR candidate_id = ?", userID, userID).
		Order("last_activity_at desc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, wrapErr("list sessions", err)
	}
	return rows, nil
}

func (s *Service) CompareAndSwapSession(ctx context.Context, next *models.Session, expectStatus models.SessionStatus, expectVersion int64, notice *models.Message) (*models.Session, error) {
	var out models.Session

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Conditional update: the row lock taken here also serializes
		// concurrent AppendMessage calls on this session.
		res := tx.Model(&models.Session{}).
			Where("id = ? AND status = ? AND version = ?", next.ID, expectStatus, expectVersion).
			Updates(map[string]interface{}{
				"status":              next.Status,
				"closed_by":           next.ClosedBy,
				"closed_at":           next.ClosedAt,
				"reopen_requested_by": next.ReopenRequestedBy,
				"reopen_requested_at": next.ReopenRequestedAt,
				"last_activity_at":    gorm.Expr("GREATEST(last_activity_at, ?)", next.LastActivityAt),
				"version":             gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Session{}).Where("id = ?", next.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return chaterr.ErrNotFound
			}
			return chaterr.ErrStaleState
		}

		if err := tx.Where("id = ?", next.ID).First(&out).Error; err != nil {
			return err
		}

		// 2. Lifecycle notice, stamped with the stored (possibly later) activity time
		if notice != nil {
			notice.SessionID = next.ID
			notice.SentAt = out.LastActivityAt
			if err := tx.Create(notice).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.Session{}).Where("id = ?", next.ID).
				Update("last_message_id", notice.ID).Error; err != nil {
				return err
			}
			out.LastMessageID = notice.ID
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("update session", err)
	}
	return &out, nil
}

func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", sessionID).First(&row).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.MessageRead{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", sessionID).Delete(&models.Session{}).Error
	})
	return wrapErr("delete session", err)
}

func (s *Service) AppendMessage(ctx context.Context, msg *models.Message) (*models.Session, error) {
	var sess models.Session

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", msg.SessionID).First(&sess).Error; err != nil {
			return err
		}
		if !sess.IsParticipant(msg.SenderID) {
			return chaterr.ErrNotParticipant
		}
		if sess.Status != models.StatusActive {
			return chaterr.ErrSessionNotActive
		}

		now := notBefore(time.Now().UTC(), sess.LastActivityAt)
		msg.SentAt = now
		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		read := models.MessageRead{MessageID: msg.ID, ReaderID: msg.SenderID, SessionID: sess.ID, ReadAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&read).Error; err != nil {
			return err
		}
		msg.ReadBy = []string{msg.SenderID}

		sess.LastActivityAt = now
		sess.LastMessageID = msg.ID
		return tx.Model(&models.Session{}).Where("id = ?", sess.ID).
			Updates(map[string]interface{}{
				"last_activity_at": now,
				"last_message_id":  msg.ID,
			}).Error
	})
	if err != nil {
		return nil, wrapErr("append message", err)
	}
	return &sess, nil
}

func (s *Service) MarkRead(ctx context.Context, sessionID, readerID string, uptoID uint64) (int, error) {
	var inserted int64

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Message{}).
			Where("id = ? AND session_id = ?", uptoID, sessionID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return chaterr.ErrNotFound
		}

		res := tx.Exec(`
			INSERT INTO chat_message_reads (message_id, reader_id, session_id, read_at)
			SELECT id, ?, session_id, ?
			FROM chat_messages
			WHERE session_id = ? AND id <= ?
			ON CONFLICT DO NOTHING`,
			readerID, time.Now().UTC(), sessionID, uptoID)
		inserted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, wrapErr("mark read", err)
	}
	return int(inserted), nil
}

func (s *Service) ListMessages(ctx context.Context, sessionID string, afterID uint64) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.DB.WithContext(ctx).
		Where("session_id = ? AND id > ?", sessionID, afterID).
		Order("id asc").
		Find(&msgs).Error; err != nil {
		return nil, wrapErr("list messages", err)
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	var reads []models.MessageRead
	if err := s.DB.WithContext(ctx).
		Where("session_id = ? AND message_id > ?", sessionID, afterID).
		Order("read_at asc").
		Find(&reads).Error; err != nil {
		return nil, wrapErr("list reads", err)
	}

	readBy := make(map[uint64][]string, len(msgs))
	for _, r := range reads {
		readBy[r.MessageID] = append(readBy[r.MessageID], r.ReaderID)
	}
	for i := range msgs {
		msgs[i].ReadBy = readBy[msgs[i].ID]
		if msgs[i].ReadBy == nil {
			msgs[i].ReadBy = []string{}
		}
	}
	return msgs, nil
}

func (s *Service) UnreadCounts(ctx context.Context, userID string, sessionIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		SessionID string
		Unread    int
	}
	err := s.DB.WithContext(ctx).Raw(`
		SELECT m.session_id, COUNT(*) AS unread
		FROM chat_messages m
		WHERE m.session_id IN ?
		  AND m.sender_id <> ?
		  AND m.kind = ?
		  AND NOT EXISTS (
		      SELECT 1 FROM chat_message_reads r
		      WHERE r.message_id = m.id AND r.reader_id = ?
		  )
		GROUP BY m.session_id`,
		sessionIDs, userID, models.KindText, userID).Scan(&rows).Error
	if err != nil {
		return nil, wrapErr("unread counts", err)
	}

	for _, r := range rows {
		counts[r.SessionID] = r.Unread
	}
	return counts, nil
}

func (s *Service) LastMessages(ctx context.Context, sessionIDs []string) (map[string]models.Message, error) {
	out := make(map[string]models.Message, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}

	// DISTINCT ON (PostgreSQL): одне найновіше повідомлення на кожну сесію.
	var msgs []models.Message
	err := s.DB.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (session_id) *
		FROM chat_messages
		WHERE session_id IN ?
		ORDER BY session_id, id DESC`, sessionIDs).Scan(&msgs).Error
	if err != nil {
		return nil, wrapErr("last messages", err)
	}

	for _, m := range msgs {
		out[m.SessionID] = m
	}
	return out, nil
}

func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return wrapErr("ping", err)
	}
	return wrapErr("ping", sqlDB.PingContext(ctx))
}

// notBefore keeps timestamps non-decreasing within a session even if the
// wall clock steps back.
func notBefore(now, floor time.Time) time.Time {
	if now.Before(floor) {
		return floor
	}
	return now
}
