package handlers

import (
	"encoding/json"
	"net/http"

	"couple-sync-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// respondJSON writes v with the given status
func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// respondMessage sends an error response with a fixed message
func respondMessage(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Kind: string(services.KindInvalidArgument)})
}

// respondError maps a service error to its status code and message
func respondError(w http.ResponseWriter, err error) {
	kind := services.Kind(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Request failed")
	}
	respondJSON(w, status, ErrorResponse{Error: services.Message(err), Kind: string(kind)})
}

func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindNotAuthenticated:
		return http.StatusUnauthorized
	case services.KindInvalidCode, services.KindCannotUseSelf, services.KindInvalidArgument, services.KindCompressionFailed:
		return http.StatusBadRequest
	case services.KindNotFound, services.KindNotConnected:
		return http.StatusNotFound
	case services.KindCodeAlreadyUsed, services.KindAlreadyConnected, services.KindTransactionConflict:
		return http.StatusConflict
	case services.KindCodeExpired, services.KindSyncMomentExpired:
		return http.StatusGone
	case services.KindUploadFailed, services.KindDownloadFailed, services.KindDeleteFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

const invalidBody = "Invalid request body"

// decodeJSON reads the request body into v
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
