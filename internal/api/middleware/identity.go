// Package middleware holds the gin middleware shared by every API route.
package middleware

import (
	"net/http"
	"strings"

	"jobchat/backend/internal/auth"
	"jobchat/backend/internal/localization"
	"jobchat/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	ParticipantKey = "participant_id"
	RoleKey        = "role"
	LangKey        = "lang"
)

// ErrorBody is the JSON shape of every API error.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Abort stops the chain with a localized error.
func Abort(c *gin.Context, loc *localization.Localizer, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{"error": ErrorBody{
		Code:    code,
		Message: loc.GetString(c.GetString(LangKey), code),
	}})
}

// Language resolves the response language from Accept-Language.
func Language(loc *localization.Localizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(LangKey, loc.FromAcceptLanguage(c.GetHeader("Accept-Language")))
		c.Next()
	}
}

// Identity requires a valid bearer token. Browsers cannot set headers on a
// websocket handshake, so the access_token query parameter is accepted too.
func Identity(tokens *auth.Tokens, loc *localization.Localizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c.GetHeader("Authorization"))
		if raw == "" {
			raw = c.Query("access_token")
		}
		if raw == "" {
			Abort(c, loc, http.StatusUnauthorized, "unauthorized")
			return
		}

		id, err := tokens.Parse(raw)
		if err != nil {
			log.Debug().Err(err).Str("path", c.FullPath()).Msg("rejected token")
			Abort(c, loc, http.StatusUnauthorized, "unauthorized")
			return
		}

		c.Set(ParticipantKey, id.ParticipantID)
		c.Set(RoleKey, id.Role)
		c.Next()
	}
}

// Caller returns the identity set by Identity.
func Caller(c *gin.Context) auth.Identity {
	role, _ := c.Get(RoleKey)
	r, _ := role.(models.Role)
	return auth.Identity{ParticipantID: c.GetString(ParticipantKey), Role: r}
}

func bearer(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
