// Package handler exposes the chat core over HTTP.
package handler

import (
	"errors"
	"net/http"

	"jobchat/backend/internal/api/middleware"
	"jobchat/backend/internal/auth"
	"jobchat/backend/internal/chaterr"
	"jobchat/backend/internal/config"
	"jobchat/backend/internal/exchange"
	"jobchat/backend/internal/gateway"
	"jobchat/backend/internal/lifecycle"
	"jobchat/backend/internal/localization"
	"jobchat/backend/internal/signalhub"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler містить посилання на сервіси ядра чату.
type Handler struct {
	Engine    *lifecycle.Engine
	Exchange  *exchange.Service
	Gateway   *gateway.Service
	Hub       *signalhub.Hub
	Tokens    *auth.Tokens
	Localizer *localization.Localizer
	Polling   config.PollingConfig
}

func NewHandler(
	engine *lifecycle.Engine,
	x *exchange.Service,
	g *gateway.Service,
	hub *signalhub.Hub,
	tokens *auth.Tokens,
	loc *localization.Localizer,
	polling config.PollingConfig,
) *Handler {
	return &Handler{
		Engine:    engine,
		Exchange:  x,
		Gateway:   g,
		Hub:       hub,
		Tokens:    tokens,
		Localizer: loc,
		Polling:   polling,
	}
}

// GetConfig returns the client polling cadence.
func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session_poll_interval_ms": h.Polling.SessionInterval.Milliseconds(),
		"message_poll_interval_ms": h.Polling.MessageInterval.Milliseconds(),
		"max_message_length":       config.MaxMessageLength,
	})
}

// fail writes err as a localized API error.
func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if errors.Is(err, chaterr.ErrStaleState) && c.GetHeader("If-Match") != "" {
		status = http.StatusPreconditionFailed
	}

	ev := log.Debug()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).
		Str("path", c.FullPath()).
		Str("caller_id", c.GetString(middleware.ParticipantKey)).
		Int("status", status).
		Msg("request failed")

	middleware.Abort(c, h.Localizer, status, chaterr.Code(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chaterr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, chaterr.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, chaterr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chaterr.ErrInvalidTransition),
		errors.Is(err, chaterr.ErrStaleState),
		errors.Is(err, chaterr.ErrSessionNotActive):
		return http.StatusConflict
	case errors.Is(err, chaterr.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Health reports whether the primary store answers.
func (h *Handler) Health(c *gin.Context) {
	if err := h.Gateway.Storage.Ping(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
