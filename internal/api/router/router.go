// Package router wires the HTTP routes.
package router

import (
	"jobchat/backend/internal/api/handler"
	"jobchat/backend/internal/api/middleware"
	"jobchat/backend/internal/logging"

	"github.com/gin-gonic/gin"
)

type Options struct {
	// DevTokens mounts POST /api/v1/dev/token.
	DevTokens bool
}

func New(h *handler.Handler, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Language(h.Localizer), logging.GinLogger())

	r.GET("/healthz", h.Health)

	v1 := r.Group("/api/v1")
	v1.GET("/config", h.GetConfig)
	if opts.DevTokens {
		v1.POST("/dev/token", h.IssueDevToken)
	}

	authed := v1.Group("", middleware.Identity(h.Tokens, h.Localizer))
	authed.GET("/signals", h.ServeSignals)

	sessions := authed.Group("/sessions")
	sessions.POST("", h.CreateSession)
	sessions.GET("", h.ListSessions)
	sessions.GET("/:id", h.GetSession)
	sessions.DELETE("/:id", h.DeleteSession)
	sessions.POST("/:id/close", h.CloseSession)
	sessions.POST("/:id/reopen-request", h.RequestReopen)
	sessions.POST("/:id/reopen-accept", h.AcceptReopen)
	sessions.GET("/:id/messages", h.ListMessages)
	sessions.POST("/:id/messages", h.SendMessage)
	sessions.POST("/:id/read", h.MarkRead)

	return r
}
