package signalhub_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"jobchat/backend/internal/models"
	"jobchat/backend/internal/signalhub"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockClient struct {
	userID string
	Recv   chan models.Signal

	mu      sync.Mutex
	running bool
	closed  bool
}

func newMockClient(userID string, buffer int) *MockClient {
	return &MockClient{userID: userID, Recv: make(chan models.Signal, buffer)}
}

func (c *MockClient) UserID() string                    { return c.userID }
func (c *MockClient) SendChannel() chan<- models.Signal { return c.Recv }

func (c *MockClient) Run() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *MockClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func startHub(t *testing.T) (*signalhub.Hub, context.CancelFunc) {
	t.Helper()
	hub := signalhub.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func receive(t *testing.T, c *MockClient) models.Signal {
	t.Helper()
	select {
	case sig := <-c.Recv:
		return sig
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.userID)
		return models.Signal{}
	}
}

func TestHub_DeliversToEveryConnectionOfTheUser(t *testing.T) {
	hub, _ := startHub(t)

	tab1 := newMockClient("emp", 4)
	tab2 := newMockClient("emp", 4)
	other := newMockClient("cand", 4)
	require.True(t, hub.Register(tab1))
	require.True(t, hub.Register(tab2))
	require.True(t, hub.Register(other))
	assert.True(t, tab1.running)

	hub.Deliver(models.Signal{UserID: "emp", SessionID: "s1", Kind: models.SignalMessage})

	assert.Equal(t, "s1", receive(t, tab1).SessionID)
	assert.Equal(t, models.SignalMessage, receive(t, tab2).Kind)

	// Signals are delivered in order, so a later signal for cand proves the
	// first one never reached it.
	hub.Deliver(models.Signal{UserID: "cand", SessionID: "s2", Kind: models.SignalRead})
	assert.Equal(t, "s2", receive(t, other).SessionID)
}

func TestHub_UnregisterClosesClient(t *testing.T) {
	hub, _ := startHub(t)

	c := newMockClient("emp", 4)
	require.True(t, hub.Register(c))
	hub.Unregister(c)

	assert.Eventually(t, c.isClosed, time.Second, 10*time.Millisecond)

	// A second unregister (readPump exiting after the hub dropped it) is harmless.
	hub.Unregister(c)
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub, _ := startHub(t)

	slow := newMockClient("emp", 0)
	require.True(t, hub.Register(slow))

	hub.Deliver(models.Signal{UserID: "emp", SessionID: "s1", Kind: models.SignalMessage})

	assert.Eventually(t, slow.isClosed, time.Second, 10*time.Millisecond)
}

func TestHub_StopClosesClientsAndRefusesNewOnes(t *testing.T) {
	hub, cancel := startHub(t)

	c := newMockClient("emp", 4)
	require.True(t, hub.Register(c))

	cancel()
	assert.Eventually(t, c.isClosed, time.Second, 10*time.Millisecond)

	late := newMockClient("cand", 4)
	assert.Eventually(t, func() bool { return !hub.Register(late) }, time.Second, 10*time.Millisecond)
	assert.NotPanics(t, func() { hub.Unregister(late) })
}

func TestLocalNotifier_PublishesToHub(t *testing.T) {
	hub, _ := startHub(t)

	c := newMockClient("cand", 4)
	require.True(t, hub.Register(c))

	n := signalhub.LocalNotifier{Hub: hub}
	require.NoError(t, n.Publish(context.Background(), models.Signal{UserID: "cand", SessionID: "s9", Kind: models.SignalLifecycle}))
	assert.Equal(t, "s9", receive(t, c).SessionID)

	online, err := n.IsOnline(context.Background(), "anyone")
	require.NoError(t, err)
	assert.True(t, online)
}
