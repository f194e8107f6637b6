package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"jobchat/backend/internal/api/middleware"
	"jobchat/backend/internal/chaterr"

	"github.com/gin-gonic/gin"
)

type sendMessageRequest struct {
	Body string `json:"body"`
}

type markReadRequest struct {
	UptoMessageID uint64 `json:"upto_message_id" binding:"required"`
}

// ListMessages returns the conversation, or only messages newer than ?after=.
func (h *Handler) ListMessages(c *gin.Context) {
	var after uint64
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.fail(c, fmt.Errorf("after=%q: %w", raw, chaterr.ErrInvalidInput))
			return
		}
		after = v
	}

	msgs, err := h.Gateway.ListMessages(c.Request.Context(), c.Param("id"), middleware.Caller(c).ParticipantID, after)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%s: %w", err.Error(), chaterr.ErrInvalidInput))
		return
	}

	msg, err := h.Exchange.SendMessage(c.Request.Context(), c.Param("id"), middleware.Caller(c).ParticipantID, req.Body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%s: %w", err.Error(), chaterr.ErrInvalidInput))
		return
	}

	n, err := h.Exchange.MarkRead(c.Request.Context(), c.Param("id"), middleware.Caller(c).ParticipantID, req.UptoMessageID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}
