package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // mobile clients send no Origin
	},
}

// WebSocketHandler streams a live session to the connected user
type WebSocketHandler struct {
	hub           *services.SessionHub
	userService   *services.UserService
	momentService *services.SyncMomentService
	deps          services.SessionDeps
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *services.SessionHub,
	userService *services.UserService,
	momentService *services.SyncMomentService,
	deps services.SessionDeps,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		userService:   userService,
		momentService: momentService,
		deps:          deps,
	}
}

// HandleWebSocket handles GET /ws?token=...
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.ValidateWebSocketToken(r.URL.Query().Get("token"), h.userService)
	if err != nil {
		respondError(w, services.ErrNotAuthenticated)
		return
	}
	if _, err := h.userService.GetUser(r.Context(), userID); err != nil {
		respondError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	// the session lives exactly as long as this connection
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := services.NewSession(userID, h.deps)
	if err := session.Start(ctx); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to start session")
		writeDirect(conn, services.WSMessage{Type: "error", Message: services.Message(err)})
		return
	}

	client := h.hub.Register(userID, conn, session)
	defer h.hub.Unregister(client)
	defer session.Close()

	if err := h.userService.Touch(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to record activity")
	}

	go h.streamSession(client, conn)

	log.Info().Str("user_id", userID).Msg("WebSocket connection established")

	// Handle messages
	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			break
		}

		var msg services.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to parse WebSocket message")
			h.sendError(client, "Invalid message format")
			continue
		}

		h.handleMessage(ctx, client, msg)
	}
}

// streamSession forwards session events until the session ends
func (h *WebSocketHandler) streamSession(client *services.Client, conn *websocket.Conn) {
	for ev := range client.Session.Updates() {
		msg := services.WSMessage{
			Type:      string(ev.Type),
			Timestamp: time.Now().UnixMilli(),
			Message:   ev.Error,
			Data:      ev.State,
		}
		if err := client.Send(msg); err != nil {
			log.Debug().Err(err).Str("user_id", client.UserID).Msg("Failed to forward session event")
			break
		}
		if ev.Type == services.EventSessionClosed {
			break
		}
	}
	// unblocks the reader so the handler can clean up
	conn.Close()
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(ctx context.Context, client *services.Client, msg services.WSMessage) {
	switch msg.Type {
	case "trigger_photo":
		if _, err := h.momentService.Start(ctx, client.UserID); err != nil {
			log.Warn().Err(err).Str("user_id", client.UserID).Msg("Failed to start sync moment")
			h.sendError(client, services.Message(err))
		}
	case "cancel_waiting":
		client.Session.CancelWaiting()
	case "ping":
		if err := client.Send(services.WSMessage{Type: "pong", Timestamp: time.Now().UnixMilli()}); err != nil {
			log.Debug().Err(err).Str("user_id", client.UserID).Msg("Failed to send pong")
		}
	default:
		h.sendError(client, "Unknown message type")
	}
}

// sendError sends an error message to the WebSocket connection
func (h *WebSocketHandler) sendError(client *services.Client, message string) {
	if err := client.Send(services.WSMessage{Type: "error", Message: message}); err != nil {
		log.Debug().Err(err).Str("user_id", client.UserID).Msg("Failed to send error message")
	}
}

func writeDirect(conn *websocket.Conn, msg services.WSMessage) {
	data, _ := json.Marshal(msg)
	conn.WriteMessage(websocket.TextMessage, data)
}
