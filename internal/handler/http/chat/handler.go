// Package chat exposes the conversation transcript API: messages,
// attachments, and push token registration.
package chat

import (
	"context"
	"encoding/base64"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carelink-backend/internal/domain"
	"carelink-backend/internal/middleware"
	chatsvc "carelink-backend/internal/service/chat"
	storagesvc "carelink-backend/internal/service/storage"
	"carelink-backend/pkg/errors"
	"carelink-backend/pkg/response"
)

// MembershipChecker gates transcript access to conversation members.
type MembershipChecker interface {
	IsMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// TokenRegistry stores device push tokens.
type TokenRegistry interface {
	Register(ctx context.Context, userID uuid.UUID, token string) error
}

// Handler serves transcript endpoints.
type Handler struct {
	chat       *chatsvc.Service
	storage    *storagesvc.Service
	membership MembershipChecker
	tokens     TokenRegistry
}

// NewHandler creates a new chat handler
func NewHandler(chat *chatsvc.Service, storage *storagesvc.Service, membership MembershipChecker, tokens TokenRegistry) *Handler {
	return &Handler{chat: chat, storage: storage, membership: membership, tokens: tokens}
}

// RegisterRoutes mounts the transcript endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/conversations/:conversation_id/messages", h.getMessages)
	r.POST("/conversations/:conversation_id/messages", h.sendMessage)
	r.POST("/conversations/:conversation_id/attachments", h.uploadAttachment)
	r.GET("/attachments/url", h.attachmentURL)
	r.POST("/push-tokens", h.registerPushToken)
}

// requireMember resolves the conversation id and checks membership.
func (h *Handler) requireMember(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.Unauthorized("missing identity"))
		return uuid.Nil, uuid.Nil, false
	}
	conversationID, err := uuid.Parse(c.Param("conversation_id"))
	if err != nil {
		response.BadRequest(c, "invalid conversation id")
		return uuid.Nil, uuid.Nil, false
	}
	member, err := h.membership.IsMember(c.Request.Context(), conversationID, userID)
	if err != nil {
		response.Error(c, err)
		return uuid.Nil, uuid.Nil, false
	}
	if !member {
		response.Error(c, errors.Forbidden("not a member of this conversation"))
		return uuid.Nil, uuid.Nil, false
	}
	return conversationID, userID, true
}

func (h *Handler) getMessages(c *gin.Context) {
	conversationID, _, ok := h.requireMember(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	var pageState []byte
	if raw := c.Query("page_state"); raw != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			response.BadRequest(c, "invalid page state")
			return
		}
		pageState = decoded
	}

	out, err := h.chat.GetMessages(c.Request.Context(), &chatsvc.GetMessagesInput{
		ConversationID: conversationID,
		Limit:          limit,
		PageState:      pageState,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	messages := out.Messages
	if messages == nil {
		messages = []*domain.Message{}
	}
	response.Success(c, gin.H{
		"messages":        messages,
		"next_page_state": base64.StdEncoding.EncodeToString(out.NextPageState),
		"has_more":        out.HasMore,
	})
}

type sendMessageRequest struct {
	Body string `json:"body" binding:"required,max=4000"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	conversationID, userID, ok := h.requireMember(c)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	msg, err := h.chat.SendMessage(c.Request.Context(), &chatsvc.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       userID,
		Type:           domain.MessageTypeText,
		Body:           req.Body,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

func (h *Handler) uploadAttachment(c *gin.Context) {
	conversationID, userID, ok := h.requireMember(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file field required")
		return
	}
	defer file.Close()

	objectKey, err := h.storage.Upload(
		c.Request.Context(),
		conversationID,
		header.Filename,
		header.Header.Get("Content-Type"),
		header.Size,
		file,
	)
	if err != nil {
		response.Error(c, err)
		return
	}

	msg, err := h.chat.SendMessage(c.Request.Context(), &chatsvc.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       userID,
		Type:           domain.MessageTypeAttachment,
		Body:           header.Filename,
		Metadata: map[string]string{
			"object_key":   objectKey,
			"content_type": header.Header.Get("Content-Type"),
			"size":         strconv.FormatInt(header.Size, 10),
		},
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

func (h *Handler) attachmentURL(c *gin.Context) {
	if _, ok := middleware.UserID(c); !ok {
		response.Error(c, errors.Unauthorized("missing identity"))
		return
	}
	objectKey := c.Query("key")
	if objectKey == "" {
		response.BadRequest(c, "key required")
		return
	}

	url, err := h.storage.DownloadURL(c.Request.Context(), objectKey)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"url": url})
}

type pushTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h *Handler) registerPushToken(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.Unauthorized("missing identity"))
		return
	}

	var req pushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if err := h.tokens.Register(c.Request.Context(), userID, req.Token); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
