package handler

import (
	"fmt"
	"net/http"

	"jobchat/backend/internal/auth"
	"jobchat/backend/internal/chaterr"
	"jobchat/backend/internal/config"
	"jobchat/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type devTokenRequest struct {
	ParticipantID string      `json:"participant_id"`
	Role          models.Role `json:"role" binding:"required"`
}

// IssueDevToken видає токен для локальної розробки. Without a participant id
// a random one is generated. Mounted only outside production.
func (h *Handler) IssueDevToken(c *gin.Context) {
	var req devTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%s: %w", err.Error(), chaterr.ErrInvalidInput))
		return
	}
	if req.ParticipantID == "" {
		req.ParticipantID = uuid.NewString()
	}

	token, err := h.Tokens.Issue(auth.Identity{ParticipantID: req.ParticipantID, Role: req.Role}, config.DefaultTokenTTL)
	if err != nil {
		h.fail(c, fmt.Errorf("%s: %w", err.Error(), chaterr.ErrInvalidInput))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "participant_id": req.ParticipantID, "role": req.Role})
}
