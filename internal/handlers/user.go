package handlers

import (
	"net/http"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	userService *services.UserService
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// CreateUserRequest is the body of POST /api/v1/users
type CreateUserRequest struct {
	PhoneNumber string `json:"phone_number"`
	DisplayName string `json:"display_name"`
}

// CreateUserResponse carries the new user and its token
type CreateUserResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// CreateUser handles POST /api/v1/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondMessage(w, invalidBody, http.StatusBadRequest)
		return
	}

	user, token, err := h.userService.CreateUser(r.Context(), req.PhoneNumber, req.DisplayName)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, CreateUserResponse{User: user, Token: token})
}

// GetMe handles GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.userService.GetUser(ctx, middleware.GetUserID(ctx))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// UpdateMe handles PATCH /api/v1/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var upd services.ProfileUpdate
	if err := decodeJSON(r, &upd); err != nil {
		respondMessage(w, invalidBody, http.StatusBadRequest)
		return
	}

	user, err := h.userService.UpdateProfile(ctx, userID, upd)
	if err != nil {
		respondError(w, err)
		return
	}

	log.Info().Str("user_id", userID).Msg("Profile updated")
	respondJSON(w, http.StatusOK, user)
}
