package handlers

import (
	"net/http"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// PairHandler handles invites and the couple of the current user
type PairHandler struct {
	pairing *services.PairingService
	couples *services.CoupleService
	users   *services.UserService
	hub     *services.SessionHub
}

// NewPairHandler creates a new pair handler
func NewPairHandler(
	pairing *services.PairingService,
	couples *services.CoupleService,
	users *services.UserService,
	hub *services.SessionHub,
) *PairHandler {
	return &PairHandler{
		pairing: pairing,
		couples: couples,
		users:   users,
		hub:     hub,
	}
}

// JoinRequest is the body of POST /api/v1/invites/join
type JoinRequest struct {
	Code string `json:"code"`
}

// CreateInvite handles POST /api/v1/invites. A live session of the creator
// starts waiting for the partner.
func (h *PairHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	invite, err := h.pairing.GenerateInviteCode(ctx, userID)
	if err != nil {
		respondError(w, err)
		return
	}

	if session := h.hub.Session(userID); session != nil {
		if err := session.WatchInvite(invite.Code); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Str("code", invite.Code).Msg("Failed to watch invite")
		}
	}

	respondJSON(w, http.StatusCreated, invite)
}

// CancelWaiting handles DELETE /api/v1/invites/waiting
func (h *PairHandler) CancelWaiting(w http.ResponseWriter, r *http.Request) {
	if session := h.hub.Session(middleware.GetUserID(r.Context())); session != nil {
		session.CancelWaiting()
	}
	w.WriteHeader(http.StatusNoContent)
}

// JoinWithCode handles POST /api/v1/invites/join
func (h *PairHandler) JoinWithCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req JoinRequest
	if err := decodeJSON(r, &req); err != nil {
		respondMessage(w, invalidBody, http.StatusBadRequest)
		return
	}

	couple, err := h.pairing.JoinWithCode(ctx, req.Code, userID)
	if err != nil {
		log.Info().Err(err).Str("user_id", userID).Str("kind", string(services.Kind(err))).Msg("Join rejected")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, h.couples.Status(couple, userID))
}

// GetCouple handles GET /api/v1/couples/me
func (h *PairHandler) GetCouple(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !user.IsConnected() {
		respondError(w, services.ErrNotConnected)
		return
	}

	couple, err := h.couples.GetCouple(ctx, *user.CoupleID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.couples.Status(couple, userID))
}

// Disconnect handles DELETE /api/v1/couples/me
func (h *PairHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	if err := h.pairing.Disconnect(ctx, userID); err != nil {
		respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
