package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"jobchat/backend/internal/chaterr"
	"jobchat/backend/internal/models"

	"github.com/google/uuid"
)

type pairKey struct {
	employer, candidate, subject string
}

// MemoryStore implements Storage in process. A single mutex serializes all
// mutations, which gives the same per-session atomicity as the row locks of
// Service. Returned values are copies.
type MemoryStore struct {
	mu sync.RWMutex

	sessions map[string]*models.Session
	bySubj   map[pairKey]string
	messages map[string][]*models.Message
	reads    map[uint64]map[string]time.Time

	nextMessageID uint64
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		bySubj:   make(map[pairKey]string),
		messages: make(map[string][]*models.Message),
		reads:    make(map[uint64]map[string]time.Time),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the wall clock used for sent/read timestamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) CreateOrGetSession(_ context.Context, in *models.Session) (*models.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey{in.EmployerID, in.CandidateID, in.SubjectRef}
	if id, ok := m.bySubj[key]; ok {
		return m.sessions[id].Clone(), false, nil
	}

	s := in.Clone()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if _, taken := m.sessions[s.ID]; taken {
		return nil, false, fmt.Errorf("create session: duplicate id %s: %w", s.ID, chaterr.ErrInvalidInput)
	}
	if s.Status == "" {
		s.Status = models.StatusActive
	}
	if s.Version == 0 {
		s.Version = 1
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now()
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = s.CreatedAt
	}

	m.sessions[s.ID] = s
	m.bySubj[key] = s.ID
	return s.Clone(), true, nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("get session %s: %w", sessionID, chaterr.ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) ListSessionsForUser(_ context.Context, userID string) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Session, 0)
	for _, s := range m.sessions {
		if s.IsParticipant(userID) {
			out = append(out, *s.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

func (m *MemoryStore) CompareAndSwapSession(_ context.Context, next *models.Session, expectStatus models.SessionStatus, expectVersion int64, notice *models.Message) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[next.ID]
	if !ok {
		return nil, fmt.Errorf("update session %s: %w", next.ID, chaterr.ErrNotFound)
	}
	if cur.Status != expectStatus || cur.Version != expectVersion {
		return nil, fmt.Errorf("update session %s: %w", next.ID, chaterr.ErrStaleState)
	}

	updated := cur.Clone()
	updated.Status = next.Status
	updated.ClosedBy = next.ClosedBy
	updated.ClosedAt = next.ClosedAt
	updated.ReopenRequestedBy = next.ReopenRequestedBy
	updated.ReopenRequestedAt = next.ReopenRequestedAt
	// A send may have committed after the caller's snapshot.
	updated.LastActivityAt = notBefore(next.LastActivityAt, cur.LastActivityAt)
	updated.Version = cur.Version + 1

	if notice != nil {
		notice.SessionID = next.ID
		notice.SentAt = updated.LastActivityAt
		m.appendLocked(notice)
		updated.LastMessageID = notice.ID
	}

	m.sessions[next.ID] = updated.Clone()
	return updated, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("delete session %s: %w", sessionID, chaterr.ErrNotFound)
	}
	for _, msg := range m.messages[sessionID] {
		delete(m.reads, msg.ID)
	}
	delete(m.messages, sessionID)
	delete(m.bySubj, pairKey{s.EmployerID, s.CandidateID, s.SubjectRef})
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[msg.SessionID]
	if !ok {
		return nil, fmt.Errorf("append message: %w", chaterr.ErrNotFound)
	}
	if !s.IsParticipant(msg.SenderID) {
		return nil, fmt.Errorf("append message: %w", chaterr.ErrNotParticipant)
	}
	if s.Status != models.StatusActive {
		return nil, fmt.Errorf("append message: %w", chaterr.ErrSessionNotActive)
	}

	msg.SentAt = notBefore(m.now(), s.LastActivityAt)
	m.appendLocked(msg)
	m.reads[msg.ID][msg.SenderID] = msg.SentAt
	msg.ReadBy = []string{msg.SenderID}

	s.LastActivityAt = msg.SentAt
	s.LastMessageID = msg.ID
	return s.Clone(), nil
}

// appendLocked assigns the next id and stores a copy of msg. m.mu must be held.
func (m *MemoryStore) appendLocked(msg *models.Message) {
	m.nextMessageID++
	msg.ID = m.nextMessageID

	stored := *msg
	stored.ReadBy = nil
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], &stored)
	m.reads[msg.ID] = make(map[string]time.Time)
}

func (m *MemoryStore) MarkRead(_ context.Context, sessionID, readerID string, uptoID uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[sessionID]
	found := false
	for _, msg := range msgs {
		if msg.ID == uptoID {
			found = true
			break
		}
	}
	if !found {
		return 0, fmt.Errorf("mark read: message %d: %w", uptoID, chaterr.ErrNotFound)
	}

	now := m.now()
	inserted := 0
	for _, msg := range msgs {
		if msg.ID > uptoID {
			break
		}
		if _, ok := m.reads[msg.ID][readerID]; ok {
			continue
		}
		m.reads[msg.ID][readerID] = now
		inserted++
	}
	return inserted, nil
}

func (m *MemoryStore) ListMessages(_ context.Context, sessionID string, afterID uint64) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Message, 0)
	for _, msg := range m.messages[sessionID] {
		if msg.ID <= afterID {
			continue
		}
		c := *msg
		c.ReadBy = m.readersLocked(msg.ID)
		out = append(out, c)
	}
	return out, nil
}

// readersLocked returns the readers of a message in the order they read it.
func (m *MemoryStore) readersLocked(messageID uint64) []string {
	set := m.reads[messageID]
	readers := make([]string, 0, len(set))
	for r := range set {
		readers = append(readers, r)
	}
	sort.Slice(readers, func(i, j int) bool {
		ti, tj := set[readers[i]], set[readers[j]]
		if ti.Equal(tj) {
			return readers[i] < readers[j]
		}
		return ti.Before(tj)
	})
	return readers
}

func (m *MemoryStore) UnreadCounts(_ context.Context, userID string, sessionIDs []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int, len(sessionIDs))
	for _, id := range sessionIDs {
		for _, msg := range m.messages[id] {
			if msg.Kind != models.KindText || msg.SenderID == userID {
				continue
			}
			if _, read := m.reads[msg.ID][userID]; !read {
				counts[id]++
			}
		}
	}
	return counts, nil
}

func (m *MemoryStore) LastMessages(_ context.Context, sessionIDs []string) (map[string]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]models.Message, len(sessionIDs))
	for _, id := range sessionIDs {
		msgs := m.messages[id]
		if len(msgs) == 0 {
			continue
		}
		out[id] = *msgs[len(msgs)-1]
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
