package handlers

import (
	"io"
	"net/http"
	"strconv"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// MaxUploadBytes bounds the multipart body of a photo upload
const MaxUploadBytes = 20 << 20

// PhotoHandler handles photo-related HTTP requests
type PhotoHandler struct {
	photoService  *services.PhotoService
	momentService *services.SyncMomentService
}

// NewPhotoHandler creates a new photo handler
func NewPhotoHandler(photoService *services.PhotoService, momentService *services.SyncMomentService) *PhotoHandler {
	return &PhotoHandler{
		photoService:  photoService,
		momentService: momentService,
	}
}

// ReactionRequest is the body of PUT /api/v1/photos/{photo_id}/reaction
type ReactionRequest struct {
	Reaction models.PhotoReaction `json:"reaction"`
}

// GetPhotos handles GET /api/v1/photos
func (h *PhotoHandler) GetPhotos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	filter, ok := models.ParsePhotoFilter(r.URL.Query().Get("filter"))
	if !ok {
		respondMessage(w, "filter must be one of all, sent, received, favorites", http.StatusBadRequest)
		return
	}

	photos, err := h.photoService.RecentPhotos(ctx, userID)
	if err != nil {
		respondError(w, err)
		return
	}

	photos = services.FilterPhotos(photos, filter, userID)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"photos": photos,
		"total":  len(photos),
	})
}

// GetPhoto handles GET /api/v1/photos/{photo_id}
func (h *PhotoHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	photo, err := h.photoService.GetPhoto(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "photo_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, photo)
}

// UploadPhoto handles POST /api/v1/photos as multipart form data with an
// image file and optional caption, is_sync_moment and sync_moment_id fields
func (h *PhotoHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		respondMessage(w, "Invalid multipart body", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		respondMessage(w, "image is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondMessage(w, "Failed to read image", http.StatusBadRequest)
		return
	}

	in := services.UploadInput{
		SenderID:     userID,
		Image:        data,
		ContentType:  header.Header.Get("Content-Type"),
		SyncMomentID: r.FormValue("sync_moment_id"),
	}
	if caption := r.FormValue("caption"); caption != "" {
		in.Caption = &caption
	}
	if v := r.FormValue("is_sync_moment"); v != "" {
		isSync, err := strconv.ParseBool(v)
		if err != nil {
			respondMessage(w, "is_sync_moment must be a boolean", http.StatusBadRequest)
			return
		}
		in.IsSyncMoment = isSync
	}

	res, err := h.photoService.UploadPhoto(ctx, in)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Int("bytes", len(data)).
			Msg("Failed to upload photo")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, res)
}

// SetReaction handles PUT /api/v1/photos/{photo_id}/reaction
func (h *PhotoHandler) SetReaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ReactionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondMessage(w, invalidBody, http.StatusBadRequest)
		return
	}

	if err := h.photoService.ReactToPhoto(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "photo_id"), req.Reaction); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearReaction handles DELETE /api/v1/photos/{photo_id}/reaction
func (h *PhotoHandler) ClearReaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.photoService.ClearReaction(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "photo_id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkViewed handles POST /api/v1/photos/{photo_id}/view
func (h *PhotoHandler) MarkViewed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.photoService.MarkAsViewed(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "photo_id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeletePhoto handles DELETE /api/v1/photos/{photo_id}
func (h *PhotoHandler) DeletePhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.photoService.DeletePhoto(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "photo_id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartSyncMoment handles POST /api/v1/sync-moments
func (h *PhotoHandler) StartSyncMoment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	moment, err := h.momentService.Start(ctx, middleware.GetUserID(ctx))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, moment)
}
