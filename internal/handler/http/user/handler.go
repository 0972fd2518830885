// Package user exposes the user directory API. Directory entries map stable
// ids to display data; authentication itself lives in the external identity
// service.
package user

import (
	"context"
	stderrors "errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carelink-backend/internal/domain"
	"carelink-backend/internal/middleware"
	"carelink-backend/internal/repository/cockroach"
	"carelink-backend/pkg/errors"
	"carelink-backend/pkg/response"
)

// Repo is the directory persistence the handler needs.
type Repo interface {
	Upsert(ctx context.Context, user *domain.User) error
	Get(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// Handler serves directory endpoints.
type Handler struct {
	users Repo
}

// NewHandler creates a new user handler
func NewHandler(users Repo) *Handler {
	return &Handler{users: users}
}

// RegisterRoutes mounts the directory endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.PUT("/me", h.upsertMe)
	r.GET("/users/:user_id", h.get)
}

type upsertRequest struct {
	DisplayName string      `json:"display_name" binding:"required,max=100"`
	Role        domain.Role `json:"role" binding:"required,oneof=patient provider advocate"`
}

// upsertMe refreshes the caller's own directory entry, typically on login.
func (h *Handler) upsertMe(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.Unauthorized("missing identity"))
		return
	}

	var req upsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	user := &domain.User{
		UserID:      userID,
		DisplayName: req.DisplayName,
		Role:        req.Role,
	}
	if err := h.users.Upsert(c.Request.Context(), user); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, user)
}

func (h *Handler) get(c *gin.Context) {
	if _, ok := middleware.UserID(c); !ok {
		response.Error(c, errors.Unauthorized("missing identity"))
		return
	}
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}

	user, err := h.users.Get(c.Request.Context(), userID)
	if err != nil {
		if stderrors.Is(err, cockroach.ErrUserNotFound) {
			response.Error(c, errors.NotFound(errors.ErrCodeUserNotFound, "user not found"))
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, user)
}
