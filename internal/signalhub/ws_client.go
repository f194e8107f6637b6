package signalhub

import (
	"encoding/json"
	"sync"
	"time"

	"jobchat/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// WebSocketClient implements Client over a gorilla websocket. Listeners
// only receive; anything they write is read and discarded.
type WebSocketClient struct {
	userID string
	Conn   *websocket.Conn
	Hub    *Hub
	Send   chan models.Signal

	closeOnce sync.Once
}

func NewWebSocketClient(hub *Hub, conn *websocket.Conn, userID string) *WebSocketClient {
	return &WebSocketClient{
		userID: userID,
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan models.Signal, sendBuffer),
	}
}

func (c *WebSocketClient) UserID() string                    { return c.userID }
func (c *WebSocketClient) SendChannel() chan<- models.Signal { return c.Send }

func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close закриває Send канал, що зупиняє writePump.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("user_id", c.userID).Msg("signal listener read error")
			}
			return
		}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case sig, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Хаб закрив канал.
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			payload, err := json.Marshal(sig)
			if err != nil {
				log.Error().Err(err).Str("user_id", c.userID).Msg("failed to encode signal")
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
