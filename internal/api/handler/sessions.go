package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"jobchat/backend/internal/api/middleware"
	"jobchat/backend/internal/chaterr"
	"jobchat/backend/internal/lifecycle"
	"jobchat/backend/internal/models"

	"github.com/gin-gonic/gin"
)

type createSessionRequest struct {
	CounterpartID string `json:"counterpart_id" binding:"required"`
	SubjectRef    string `json:"subject_ref" binding:"required"`
	SubjectTitle  string `json:"subject_title"`
}

// CreateSession opens (or returns) the conversation between the caller and
// the counterpart about one job. The caller's token role decides who is the
// employer.
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%s: %w", err.Error(), chaterr.ErrInvalidInput))
		return
	}

	caller := middleware.Caller(c)
	employerID, candidateID := caller.ParticipantID, req.CounterpartID
	if caller.Role == models.RoleCandidate {
		employerID, candidateID = req.CounterpartID, caller.ParticipantID
	}

	ctx := c.Request.Context()
	sess, created, err := h.Engine.CreateOrGetSession(ctx, employerID, candidateID, req.SubjectRef, req.SubjectTitle)
	if err != nil {
		h.fail(c, err)
		return
	}

	sum, err := h.Gateway.GetSession(ctx, sess.ID, caller.ParticipantID)
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	setETag(c, sum.Version)
	c.JSON(status, sum)
}

func (h *Handler) ListSessions(c *gin.Context) {
	list, err := h.Gateway.ListSessions(c.Request.Context(), middleware.Caller(c).ParticipantID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (h *Handler) GetSession(c *gin.Context) {
	sum, err := h.Gateway.GetSession(c.Request.Context(), c.Param("id"), middleware.Caller(c).ParticipantID)
	if err != nil {
		h.fail(c, err)
		return
	}
	setETag(c, sum.Version)
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) CloseSession(c *gin.Context)  { h.transition(c, lifecycle.EventClose) }
func (h *Handler) RequestReopen(c *gin.Context) { h.transition(c, lifecycle.EventRequestReopen) }
func (h *Handler) AcceptReopen(c *gin.Context)  { h.transition(c, lifecycle.EventAcceptReopen) }
func (h *Handler) DeleteSession(c *gin.Context) { h.transition(c, lifecycle.EventDelete) }

func (h *Handler) transition(c *gin.Context, ev lifecycle.Event) {
	ifVersion, err := parseIfMatch(c.GetHeader("If-Match"))
	if err != nil {
		h.fail(c, err)
		return
	}

	sess, err := h.Engine.Apply(c.Request.Context(), lifecycle.Command{
		SessionID: c.Param("id"),
		Actor:     middleware.Caller(c).ParticipantID,
		Event:     ev,
		IfVersion: ifVersion,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	if ev == lifecycle.EventDelete {
		c.Status(http.StatusNoContent)
		return
	}
	setETag(c, sess.Version)
	c.JSON(http.StatusOK, sess)
}

func setETag(c *gin.Context, version int64) {
	c.Header("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
}

// parseIfMatch accepts the session version as a plain or quoted number.
// An absent header means no precondition.
func parseIfMatch(header string) (int64, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(strings.Trim(strings.TrimPrefix(header, "W/"), `"`), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("If-Match %q is not a session version: %w", header, chaterr.ErrInvalidInput)
	}
	return v, nil
}
