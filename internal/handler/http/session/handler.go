// Package session exposes the call session REST API consumed by the mobile
// apps and the station endpoints.
package session

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carelink-backend/internal/domain"
	"carelink-backend/internal/middleware"
	sessionsvc "carelink-backend/internal/service/session"
	"carelink-backend/pkg/errors"
	"carelink-backend/pkg/response"
)

// Handler serves call session endpoints.
type Handler struct {
	sessions *sessionsvc.Service
}

// NewHandler creates a new session handler
func NewHandler(sessions *sessionsvc.Service) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes mounts the session endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/conversations/:conversation_id/calls", h.start)
	r.GET("/calls", h.history)
	r.GET("/calls/:call_id", h.get)
	r.PATCH("/calls/:call_id", h.patch)
	r.GET("/calls/:call_id/signals", h.signals)
}

func (h *Handler) start(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.Unauthorized("missing identity"))
		return
	}
	conversationID, err := uuid.Parse(c.Param("conversation_id"))
	if err != nil {
		response.BadRequest(c, "invalid conversation id")
		return
	}

	sess, err := h.sessions.Start(c.Request.Context(), conversationID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sess)
}

func (h *Handler) get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.Unauthorized("missing identity"))
		return
	}
	callID, err := uuid.Parse(c.Param("call_id"))
	if err != nil {
		response.BadRequest(c, "invalid call id")
		return
	}

	sess, err := h.sessions.Get(c.Request.Context(), callID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sess)
}

type patchRequest struct {
	Status domain.CallStatus `json:"status" binding:"required"`
}

// patch applies the idempotent status transitions both call parties race to
// report: RINGING→CONNECTED on first media, anything→ENDED on teardown.
func (h *Handler) patch(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.Unauthorized("missing identity"))
		return
	}
	callID, err := uuid.Parse(c.Param("call_id"))
	if err != nil {
		response.BadRequest(c, "invalid call id")
		return
	}

	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	switch req.Status {
	case domain.CallStatusConnected:
		err = h.sessions.MarkConnected(c.Request.Context(), callID, userID)
	case domain.CallStatusEnded:
		err = h.sessions.End(c.Request.Context(), callID, userID)
	default:
		response.BadRequest(c, "status must be CONNECTED or ENDED")
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	sess, err := h.sessions.Get(c.Request.Context(), callID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sess)
}

func (h *Handler) history(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.Unauthorized("missing identity"))
		return
	}

	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)

	sessions, err := h.sessions.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.CallSession{}
	}
	response.Success(c, sessions)
}

func (h *Handler) signals(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.Unauthorized("missing identity"))
		return
	}
	callID, err := uuid.Parse(c.Param("call_id"))
	if err != nil {
		response.BadRequest(c, "invalid call id")
		return
	}

	signals, err := h.sessions.Signals(c.Request.Context(), callID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if signals == nil {
		signals = []*domain.CallSignal{}
	}
	response.Success(c, signals)
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
