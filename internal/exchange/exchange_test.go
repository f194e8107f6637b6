package exchange_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"jobchat/backend/internal/chaterr"
	"jobchat/backend/internal/exchange"
	"jobchat/backend/internal/lifecycle"
	"jobchat/backend/internal/models"
	"jobchat/backend/internal/notify"
	"jobchat/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Publish(ctx context.Context, sig models.Signal) error {
	args := m.Called(sig)
	return args.Error(0)
}

func (m *MockNotifier) Touch(ctx context.Context, userID string, ttl time.Duration) error {
	args := m.Called(userID, ttl)
	return args.Error(0)
}

func (m *MockNotifier) IsOnline(ctx context.Context, userID string) (bool, error) {
	args := m.Called(userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockNotifier) EnqueueOfflineAlert(ctx context.Context, alert notify.OfflineAlert) error {
	args := m.Called(alert)
	return args.Error(0)
}

type fixture struct {
	store    *storage.MemoryStore
	engine   *lifecycle.Engine
	exchange *exchange.Service
	session  *models.Session
}

func setup(t *testing.T, n notify.Notifier) fixture {
	t.Helper()
	st := storage.NewMemoryStore()
	engine := lifecycle.NewEngine(st, nil)
	s, _, err := engine.CreateOrGetSession(context.Background(), "emp", "cand", "job-1", "Go Developer")
	require.NoError(t, err)
	return fixture{store: st, engine: engine, exchange: exchange.NewService(st, n), session: s}
}

func TestSendMessage_AppendsAndMarksSenderRead(t *testing.T) {
	f := setup(t, notify.Nop{})
	ctx := context.Background()

	msg, err := f.exchange.SendMessage(ctx, f.session.ID, "emp", "  hello  ")
	require.NoError(t, err)

	assert.NotZero(t, msg.ID)
	assert.Equal(t, "hello", msg.Body, "body is trimmed")
	assert.Equal(t, models.KindText, msg.Kind)
	assert.True(t, msg.IsReadBy("emp"))
	assert.False(t, msg.IsReadBy("cand"))

	s, err := f.store.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, s.LastMessageID)
	assert.Equal(t, msg.SentAt, s.LastActivityAt)
}

func TestSendMessage_Validation(t *testing.T) {
	f := setup(t, notify.Nop{})
	ctx := context.Background()

	_, err := f.exchange.SendMessage(ctx, f.session.ID, "emp", "   \n\t ")
	assert.ErrorIs(t, err, chaterr.ErrInvalidInput)

	_, err = f.exchange.SendMessage(ctx, f.session.ID, "emp", strings.Repeat("a", 4001))
	assert.ErrorIs(t, err, chaterr.ErrInvalidInput)

	_, err = f.exchange.SendMessage(ctx, f.session.ID, "stranger", "hi")
	assert.ErrorIs(t, err, chaterr.ErrNotParticipant)

	_, err = f.exchange.SendMessage(ctx, "missing", "emp", "hi")
	assert.ErrorIs(t, err, chaterr.ErrNotFound)
}

// Scenario: A closes, B's message is rejected and nothing is created.
func TestSendMessage_RejectedWhenNotActive(t *testing.T) {
	f := setup(t, notify.Nop{})
	ctx := context.Background()

	closed, err := f.engine.Close(ctx, f.session.ID, "emp")
	require.NoError(t, err)
	assert.Equal(t, "emp", *closed.ClosedBy)

	before, err := f.store.ListMessages(ctx, f.session.ID, 0)
	require.NoError(t, err)

	_, err = f.exchange.SendMessage(ctx, f.session.ID, "cand", "hi")
	assert.ErrorIs(t, err, chaterr.ErrSessionNotActive)

	_, err = f.engine.RequestReopen(ctx, f.session.ID, "cand")
	require.NoError(t, err)
	_, err = f.exchange.SendMessage(ctx, f.session.ID, "emp", "still pending")
	assert.ErrorIs(t, err, chaterr.ErrSessionNotActive)

	after, err := f.store.ListMessages(ctx, f.session.ID, 0)
	require.NoError(t, err)
	assert.Len(t, after, len(before)+1, "only the reopen notice was added")
	assert.Equal(t, models.KindSystemReopenRequested, after[len(after)-1].Kind)
}

// closeRacer closes the session right after the exchange read its snapshot,
// reproducing a send that races a close.
type closeRacer struct {
	storage.Storage
	engine *lifecycle.Engine
	once   sync.Once
}

func (c *closeRacer) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s, err := c.Storage.GetSession(ctx, id)
	c.once.Do(func() {
		_, _ = c.engine.Close(ctx, id, "emp")
	})
	return s, err
}

func TestSendMessage_LosesRaceAgainstClose(t *testing.T) {
	f := setup(t, notify.Nop{})
	ctx := context.Background()

	racer := &closeRacer{Storage: f.store, engine: f.engine}
	x := exchange.NewService(racer, nil)

	_, err := x.SendMessage(ctx, f.session.ID, "cand", "too late")
	assert.ErrorIs(t, err, chaterr.ErrSessionNotActive)

	msgs, err := f.store.ListMessages(ctx, f.session.ID, 0)
	require.NoError(t, err)
	for _, m := range msgs {
		assert.NotEqual(t, "too late", m.Body)
	}
}

type failingStore struct {
	storage.Storage
}

func (failingStore) AppendMessage(context.Context, *models.Message) (*models.Session, error) {
	return nil, fmt.Errorf("append message: %w", chaterr.ErrUnavailable)
}

func TestSendMessage_StorageFailureIsTransient(t *testing.T) {
	f := setup(t, notify.Nop{})
	x := exchange.NewService(failingStore{Storage: f.store}, nil)

	_, err := x.SendMessage(context.Background(), f.session.ID, "emp", "hello")
	assert.True(t, chaterr.IsTransient(err))
}

func TestSendMessage_OfflineRecipientGetsAlert(t *testing.T) {
	n := new(MockNotifier)
	f := setup(t, n)

	n.On("Publish", mock.AnythingOfType("models.Signal")).Return(nil)
	n.On("IsOnline", "cand").Return(false, nil).Once()
	n.On("EnqueueOfflineAlert", mock.MatchedBy(func(a notify.OfflineAlert) bool {
		return a.RecipientID == "cand" &&
			a.SenderID == "emp" &&
			a.SessionID == f.session.ID &&
			a.SubjectTitle == "Go Developer" &&
			a.Preview == "are you available?"
	})).Return(nil).Once()

	_, err := f.exchange.SendMessage(context.Background(), f.session.ID, "emp", "are you available?")
	require.NoError(t, err)

	n.AssertExpectations(t)
	n.AssertNumberOfCalls(t, "Publish", 2)
}

func TestSendMessage_OnlineRecipientNoAlert(t *testing.T) {
	n := new(MockNotifier)
	f := setup(t, n)

	n.On("Publish", mock.AnythingOfType("models.Signal")).Return(nil)
	n.On("IsOnline", "emp").Return(true, nil).Once()

	_, err := f.exchange.SendMessage(context.Background(), f.session.ID, "cand", "hi")
	require.NoError(t, err)

	n.AssertExpectations(t)
	n.AssertNotCalled(t, "EnqueueOfflineAlert", mock.Anything)
}

func TestSendMessage_NotifierFailureDoesNotFailSend(t *testing.T) {
	n := new(MockNotifier)
	f := setup(t, n)

	n.On("Publish", mock.AnythingOfType("models.Signal")).Return(fmt.Errorf("redis down"))
	n.On("IsOnline", "cand").Return(false, fmt.Errorf("redis down"))

	msg, err := f.exchange.SendMessage(context.Background(), f.session.ID, "emp", "hello")
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	n.AssertNotCalled(t, "EnqueueOfflineAlert", mock.Anything)
}

func TestSendMessage_OrderingIsStable(t *testing.T) {
	f := setup(t, notify.Nop{})
	ctx := context.Background()

	var prefix []models.Message
	for i := 0; i < 5; i++ {
		sender := "emp"
		if i%2 == 1 {
			sender = "cand"
		}
		_, err := f.exchange.SendMessage(ctx, f.session.ID, sender, fmt.Sprintf("m%d", i))
		require.NoError(t, err)

		msgs, err := f.store.ListMessages(ctx, f.session.ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, i+1)
		for j := range prefix {
			assert.Equal(t, prefix[j].ID, msgs[j].ID)
			assert.Equal(t, prefix[j].Body, msgs[j].Body)
		}
		for j := 1; j < len(msgs); j++ {
			assert.Greater(t, msgs[j].ID, msgs[j-1].ID)
			assert.False(t, msgs[j].SentAt.Before(msgs[j-1].SentAt))
		}
		prefix = msgs
	}
}

func TestSendMessage_ConcurrentSendsGetDistinctIncreasingIDs(t *testing.T) {
	f := setup(t, notify.Nop{})
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := "emp"
			if i%2 == 0 {
				sender = "cand"
			}
			_, err := f.exchange.SendMessage(ctx, f.session.ID, sender, fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := f.store.ListMessages(ctx, f.session.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for j := 1; j < len(msgs); j++ {
		assert.Greater(t, msgs[j].ID, msgs[j-1].ID)
	}
}

func TestMarkRead_IdempotentAndMonotonic(t *testing.T) {
	f := setup(t, notify.Nop{})
	ctx := context.Background()

	var ids []uint64
	for i := 0; i < 3; i++ {
		m, err := f.exchange.SendMessage(ctx, f.session.ID, "emp", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	n, err := f.exchange.MarkRead(ctx, f.session.ID, "cand", ids[2])
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.exchange.MarkRead(ctx, f.session.ID, "cand", ids[0])
	require.NoError(t, err)
	assert.Zero(t, n)

	msgs, err := f.store.ListMessages(ctx, f.session.ID, 0)
	require.NoError(t, err)
	for _, m := range msgs {
		assert.True(t, m.IsReadBy("cand"), "read set never shrinks")
	}
}

func TestMarkRead_Errors(t *testing.T) {
	f := setup(t, notify.Nop{})
	ctx := context.Background()

	m, err := f.exchange.SendMessage(ctx, f.session.ID, "emp", "hi")
	require.NoError(t, err)

	_, err = f.exchange.MarkRead(ctx, f.session.ID, "stranger", m.ID)
	assert.ErrorIs(t, err, chaterr.ErrNotParticipant)

	_, err = f.exchange.MarkRead(ctx, f.session.ID, "cand", m.ID+100)
	assert.ErrorIs(t, err, chaterr.ErrNotFound)

	_, err = f.exchange.MarkRead(ctx, "missing", "cand", m.ID)
	assert.ErrorIs(t, err, chaterr.ErrNotFound)
}

func TestMarkRead_AllowedOnClosedSession(t *testing.T) {
	f := setup(t, notify.Nop{})
	ctx := context.Background()

	m, err := f.exchange.SendMessage(ctx, f.session.ID, "emp", "bye")
	require.NoError(t, err)
	_, err = f.engine.Close(ctx, f.session.ID, "emp")
	require.NoError(t, err)

	n, err := f.exchange.MarkRead(ctx, f.session.ID, "cand", m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkRead_MessageFromAnotherSession(t *testing.T) {
	f := setup(t, notify.Nop{})
	ctx := context.Background()

	other, _, err := f.engine.CreateOrGetSession(ctx, "emp", "cand", "job-2", "")
	require.NoError(t, err)
	m, err := f.exchange.SendMessage(ctx, other.ID, "emp", "elsewhere")
	require.NoError(t, err)

	_, err = f.exchange.MarkRead(ctx, f.session.ID, "cand", m.ID)
	assert.ErrorIs(t, err, chaterr.ErrNotFound)
}
