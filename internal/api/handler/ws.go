package handler

import (
	"net/http"

	"jobchat/backend/internal/api/middleware"
	"jobchat/backend/internal/signalhub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Signals carry no content and the caller is already authenticated.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeSignals upgrades to a websocket that streams "session changed"
// signals for the caller. It is optional: clients that never connect still
// see every change on their next poll.
func (h *Handler) ServeSignals(c *gin.Context) {
	caller := middleware.Caller(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Debug().Err(err).Str("caller_id", caller.ParticipantID).Msg("websocket upgrade failed")
		return
	}

	client := signalhub.NewWebSocketClient(h.Hub, conn, caller.ParticipantID)
	if !h.Hub.Register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
	}
}
