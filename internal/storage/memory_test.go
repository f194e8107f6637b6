package storage_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"jobchat/backend/internal/chaterr"
	"jobchat/backend/internal/models"
	"jobchat/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, st *storage.MemoryStore) *models.Session {
	t.Helper()
	s, created, err := st.CreateOrGetSession(context.Background(), &models.Session{
		EmployerID:  "emp",
		CandidateID: "cand",
		SubjectRef:  "job-1",
	})
	require.NoError(t, err)
	require.True(t, created)
	return s
}

func TestMemoryStore_CreateOrGetSession_ExactlyOnce(t *testing.T) {
	st := storage.NewMemoryStore()
	ctx := context.Background()

	first := newSession(t, st)
	assert.Equal(t, models.StatusActive, first.Status)
	assert.Equal(t, int64(1), first.Version)
	assert.NotEmpty(t, first.ID)

	again, created, err := st.CreateOrGetSession(ctx, &models.Session{EmployerID: "emp", CandidateID: "cand", SubjectRef: "job-1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	other, created, err := st.CreateOrGetSession(ctx, &models.Session{EmployerID: "emp", CandidateID: "cand", SubjectRef: "job-2"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestMemoryStore_AppendMessage_GatesOnStatus(t *testing.T) {
	st := storage.NewMemoryStore()
	ctx := context.Background()
	s := newSession(t, st)

	msg := &models.Message{SessionID: s.ID, SenderID: "emp", Body: "hello", Kind: models.KindText}
	updated, err := st.AppendMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msg.ID)
	assert.Equal(t, []string{"emp"}, msg.ReadBy)
	assert.Equal(t, msg.ID, updated.LastMessageID)
	assert.Equal(t, int64(1), updated.Version, "sending does not bump the lifecycle version")

	closed := s.Clone()
	closed.Status = models.StatusClosed
	closed.ClosedBy = ptr("emp")
	_, err = st.CompareAndSwapSession(ctx, closed, models.StatusActive, 1, nil)
	require.NoError(t, err)

	_, err = st.AppendMessage(ctx, &models.Message{SessionID: s.ID, SenderID: "cand", Body: "hi", Kind: models.KindText})
	assert.ErrorIs(t, err, chaterr.ErrSessionNotActive)

	msgs, err := st.ListMessages(ctx, s.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMemoryStore_AppendMessage_RejectsStrangers(t *testing.T) {
	st := storage.NewMemoryStore()
	s := newSession(t, st)

	_, err := st.AppendMessage(context.Background(), &models.Message{SessionID: s.ID, SenderID: "stranger", Body: "x", Kind: models.KindText})
	assert.ErrorIs(t, err, chaterr.ErrNotParticipant)

	_, err = st.AppendMessage(context.Background(), &models.Message{SessionID: "missing", SenderID: "emp", Body: "x", Kind: models.KindText})
	assert.ErrorIs(t, err, chaterr.ErrNotFound)
}

func TestMemoryStore_CompareAndSwap(t *testing.T) {
	st := storage.NewMemoryStore()
	ctx := context.Background()
	s := newSession(t, st)

	next := s.Clone()
	next.Status = models.StatusClosed
	notice := &models.Message{SenderID: "system", Body: "closed", Kind: models.KindSystemClosed}

	updated, err := st.CompareAndSwapSession(ctx, next, models.StatusActive, 1, notice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, models.StatusClosed, updated.Status)
	assert.Equal(t, notice.ID, updated.LastMessageID)
	assert.Equal(t, s.ID, notice.SessionID)

	_, err = st.CompareAndSwapSession(ctx, next, models.StatusActive, 1, nil)
	assert.ErrorIs(t, err, chaterr.ErrStaleState)

	next.ID = "missing"
	_, err = st.CompareAndSwapSession(ctx, next, models.StatusActive, 1, nil)
	assert.ErrorIs(t, err, chaterr.ErrNotFound)
}

func TestMemoryStore_MarkRead_UnionAndIdempotent(t *testing.T) {
	st := storage.NewMemoryStore()
	ctx := context.Background()
	s := newSession(t, st)

	var ids []uint64
	for i := 0; i < 3; i++ {
		m := &models.Message{SessionID: s.ID, SenderID: "emp", Body: fmt.Sprintf("m%d", i), Kind: models.KindText}
		_, err := st.AppendMessage(ctx, m)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	counts, err := st.UnreadCounts(ctx, "cand", []string{s.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, counts[s.ID])

	n, err := st.MarkRead(ctx, s.ID, "cand", ids[1])
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.MarkRead(ctx, s.ID, "cand", ids[0])
	require.NoError(t, err)
	assert.Equal(t, 0, n, "re-marking is a no-op")

	counts, err = st.UnreadCounts(ctx, "cand", []string{s.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, counts[s.ID])

	msgs, err := st.ListMessages(ctx, s.ID, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"emp", "cand"}, msgs[0].ReadBy)
	assert.Equal(t, []string{"emp"}, msgs[2].ReadBy)

	_, err = st.MarkRead(ctx, s.ID, "cand", 999)
	assert.ErrorIs(t, err, chaterr.ErrNotFound)
}

func TestMemoryStore_MarkRead_ConcurrentViewersMerge(t *testing.T) {
	st := storage.NewMemoryStore()
	ctx := context.Background()
	s := newSession(t, st)

	m := &models.Message{SessionID: s.ID, SenderID: "emp", Body: "hello", Kind: models.KindText}
	_, err := st.AppendMessage(ctx, m)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, viewer := range []string{"cand", "emp", "cand", "emp"} {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			_, err := st.MarkRead(ctx, s.ID, v, m.ID)
			assert.NoError(t, err)
		}(viewer)
	}
	wg.Wait()

	msgs, err := st.ListMessages(ctx, s.ID, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"emp", "cand"}, msgs[0].ReadBy)
}

func TestMemoryStore_ListMessages_AfterID(t *testing.T) {
	st := storage.NewMemoryStore()
	ctx := context.Background()
	s := newSession(t, st)

	for i := 0; i < 4; i++ {
		_, err := st.AppendMessage(ctx, &models.Message{SessionID: s.ID, SenderID: "cand", Body: "x", Kind: models.KindText})
		require.NoError(t, err)
	}

	msgs, err := st.ListMessages(ctx, s.ID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(3), msgs[0].ID)
	assert.Equal(t, uint64(4), msgs[1].ID)
}

func TestMemoryStore_SentAtNeverGoesBackwards(t *testing.T) {
	st := storage.NewMemoryStore()
	ctx := context.Background()
	s := newSession(t, st)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return base })
	first := &models.Message{SessionID: s.ID, SenderID: "emp", Body: "a", Kind: models.KindText}
	_, err := st.AppendMessage(ctx, first)
	require.NoError(t, err)

	st.SetClock(func() time.Time { return base.Add(-time.Hour) })
	second := &models.Message{SessionID: s.ID, SenderID: "emp", Body: "b", Kind: models.KindText}
	_, err = st.AppendMessage(ctx, second)
	require.NoError(t, err)

	assert.False(t, second.SentAt.Before(first.SentAt))
	assert.Greater(t, second.ID, first.ID)
}

func TestMemoryStore_DeleteSession(t *testing.T) {
	st := storage.NewMemoryStore()
	ctx := context.Background()
	s := newSession(t, st)

	_, err := st.AppendMessage(ctx, &models.Message{SessionID: s.ID, SenderID: "emp", Body: "x", Kind: models.KindText})
	require.NoError(t, err)

	require.NoError(t, st.DeleteSession(ctx, s.ID))

	_, err = st.GetSession(ctx, s.ID)
	assert.ErrorIs(t, err, chaterr.ErrNotFound)
	assert.ErrorIs(t, st.DeleteSession(ctx, s.ID), chaterr.ErrNotFound)

	msgs, err := st.ListMessages(ctx, s.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// The pair can start a fresh session afterwards.
	again, created, err := st.CreateOrGetSession(ctx, &models.Session{EmployerID: "emp", CandidateID: "cand", SubjectRef: "job-1"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, s.ID, again.ID)
}

func TestMemoryStore_ListSessionsForUser_OrderedByActivity(t *testing.T) {
	st := storage.NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	older, _, err := st.CreateOrGetSession(ctx, &models.Session{EmployerID: "emp", CandidateID: "cand", SubjectRef: "job-1", LastActivityAt: base})
	require.NoError(t, err)
	newer, _, err := st.CreateOrGetSession(ctx, &models.Session{EmployerID: "emp", CandidateID: "other", SubjectRef: "job-2", LastActivityAt: base.Add(time.Minute)})
	require.NoError(t, err)

	list, err := st.ListSessionsForUser(ctx, "emp")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)

	st.SetClock(func() time.Time { return base.Add(time.Hour) })
	_, err = st.AppendMessage(ctx, &models.Message{SessionID: older.ID, SenderID: "cand", Body: "bump", Kind: models.KindText})
	require.NoError(t, err)

	list, err = st.ListSessionsForUser(ctx, "emp")
	require.NoError(t, err)
	assert.Equal(t, older.ID, list[0].ID)

	list, err = st.ListSessionsForUser(ctx, "cand")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStore_LastMessages(t *testing.T) {
	st := storage.NewMemoryStore()
	ctx := context.Background()
	s := newSession(t, st)

	last, err := st.LastMessages(ctx, []string{s.ID})
	require.NoError(t, err)
	assert.Empty(t, last)

	_, err = st.AppendMessage(ctx, &models.Message{SessionID: s.ID, SenderID: "emp", Body: "one", Kind: models.KindText})
	require.NoError(t, err)
	_, err = st.AppendMessage(ctx, &models.Message{SessionID: s.ID, SenderID: "cand", Body: "two", Kind: models.KindText})
	require.NoError(t, err)

	last, err = st.LastMessages(ctx, []string{s.ID})
	require.NoError(t, err)
	assert.Equal(t, "two", last[s.ID].Body)
}

func ptr[T any](v T) *T { return &v }

func TestMemoryStore_CompareAndSwap_NeverMovesActivityBack(t *testing.T) {
	st := storage.NewMemoryStore()
	ctx := context.Background()
	s := newSession(t, st)

	msg := &models.Message{SessionID: s.ID, SenderID: "cand", Body: "hi", Kind: models.KindText}
	_, err := st.AppendMessage(ctx, msg)
	require.NoError(t, err)

	// The caller decided on the snapshot taken before the message.
	next := s.Clone()
	by := "emp"
	next.Status = models.StatusClosed
	next.ClosedBy = &by
	next.LastActivityAt = msg.SentAt.Add(-time.Minute)

	notice := &models.Message{SenderID: "system", Kind: models.KindSystemClosed, Body: "closed"}
	updated, err := st.CompareAndSwapSession(ctx, next, s.Status, s.Version, notice)
	require.NoError(t, err)

	assert.Equal(t, msg.SentAt, updated.LastActivityAt)
	assert.Equal(t, msg.SentAt, notice.SentAt)
	assert.Greater(t, notice.ID, msg.ID)
}
