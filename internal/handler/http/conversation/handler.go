// Package conversation exposes the conversation directory API.
package conversation

import (
	"context"
	stderrors "errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carelink-backend/internal/domain"
	"carelink-backend/internal/middleware"
	"carelink-backend/internal/repository/cockroach"
	"carelink-backend/pkg/errors"
	"carelink-backend/pkg/response"
)

// Repo is the conversation persistence the handler needs.
type Repo interface {
	Create(ctx context.Context, conv *domain.Conversation) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	ListByMember(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, error)
}

// Handler serves conversation endpoints.
type Handler struct {
	conversations Repo
}

// NewHandler creates a new conversation handler
func NewHandler(conversations Repo) *Handler {
	return &Handler{conversations: conversations}
}

// RegisterRoutes mounts the conversation endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/conversations", h.create)
	r.GET("/conversations", h.list)
	r.GET("/conversations/:conversation_id", h.get)
}

type createRequest struct {
	Title     string   `json:"title" binding:"required,max=200"`
	MemberIDs []string `json:"member_ids" binding:"required,min=1"`
}

func (h *Handler) create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.Unauthorized("missing identity"))
		return
	}

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	members := []uuid.UUID{userID}
	seen := map[uuid.UUID]struct{}{userID: {}}
	for _, raw := range req.MemberIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid member id")
			return
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}

	conv := &domain.Conversation{
		ConversationID: uuid.New(),
		Title:          req.Title,
		MemberIDs:      members,
		CreatedBy:      userID,
	}
	if err := h.conversations.Create(c.Request.Context(), conv); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, conv)
}

func (h *Handler) list(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.Unauthorized("missing identity"))
		return
	}

	limit := queryInt(c, "limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	conversations, err := h.conversations.ListByMember(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	if conversations == nil {
		conversations = []*domain.Conversation{}
	}
	response.Success(c, conversations)
}

func (h *Handler) get(c *gin.Context) {
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

	conv, err := h.conversations.Get(c.Request.Context(), conversationID)
	if err != nil {
		if stderrors.Is(err, cockroach.ErrConversationNotFound) {
			response.Error(c, errors.NotFound(errors.ErrCodeConversationNotFound, "conversation not found"))
			return
		}
		response.Error(c, err)
		return
	}
	if !conv.HasMember(userID) {
		response.Error(c, errors.Forbidden("not a member of this conversation"))
		return
	}
	response.Success(c, conv)
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
