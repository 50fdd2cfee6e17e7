package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type         string      `json:"type"`
	Timestamp    int64       `json:"timestamp,omitempty"`
	InitiatorID  string      `json:"initiator_id,omitempty"`
	SyncMomentID string      `json:"sync_moment_id,omitempty"`
	ExpiresAt    int64       `json:"expires_at,omitempty"`
	Online       *bool       `json:"online,omitempty"`
	Message      string      `json:"message,omitempty"`
	Data         interface{} `json:"data,omitempty"`
}

// Conn is the part of a websocket connection the hub writes to
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is a registered connection and the session it streams
type Client struct {
	UserID  string
	Session *Session

	conn    Conn
	writeMu sync.Mutex
}

func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Send writes a message to this connection
func (c *Client) Send(message WSMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.write(data)
}

// SessionHub manages the live connection of each user
type SessionHub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	users   *repository.UserRepository
}

// NewSessionHub creates a new hub
func NewSessionHub(users *repository.UserRepository) *SessionHub {
	return &SessionHub{
		clients: make(map[string]*Client),
		users:   users,
	}
}

// Register registers a connection for a user, replacing any previous one
func (h *SessionHub) Register(userID string, conn Conn, session *Session) *Client {
	c := &Client{UserID: userID, Session: session, conn: conn}

	h.mu.Lock()
	existing, replaced := h.clients[userID]
	h.clients[userID] = c
	h.mu.Unlock()

	if replaced {
		existing.conn.Close()
		if existing.Session != nil {
			existing.Session.Close()
		}
	} else {
		metrics.SessionsActive.Inc()
	}

	log.Info().Str("user_id", userID).Bool("replaced", replaced).Msg("WebSocket connection registered")

	// Notify partner about online status
	go h.notifyPartnerStatus(userID, true)

	return c
}

// Unregister removes a connection unless it was already replaced
func (h *SessionHub) Unregister(c *Client) {
	h.mu.Lock()
	current, exists := h.clients[c.UserID]
	if !exists || current != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.UserID)
	h.mu.Unlock()

	c.conn.Close()
	metrics.SessionsActive.Dec()
	log.Info().Str("user_id", c.UserID).Msg("WebSocket connection unregistered")

	// Notify partner about offline status
	go h.notifyPartnerStatus(c.UserID, false)
}

// Session returns the live session of a user, if connected
func (h *SessionHub) Session(userID string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[userID]; ok {
		return c.Session
	}
	return nil
}

// SendToUser sends a message to a specific user
func (h *SessionHub) SendToUser(userID string, message WSMessage) error {
	h.mu.RLock()
	c, exists := h.clients[userID]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("user %s is not connected", userID)
	}

	if err := c.Send(message); err != nil {
		h.Unregister(c)
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// IsOnline checks if a user is online
func (h *SessionHub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.clients[userID]
	return exists
}

// NudgePartner sends take_photo to both partners of a sync moment
func (h *SessionHub) NudgePartner(initiatorID, partnerID string, moment *models.SyncMoment) error {
	// Check if partner is online
	if !h.IsOnline(partnerID) {
		return fmt.Errorf("partner %s is offline", partnerID)
	}

	takePhotoMsg := WSMessage{
		Type:         "take_photo",
		InitiatorID:  initiatorID,
		SyncMomentID: moment.ID,
		Timestamp:    moment.CreatedAt.UnixMilli(),
		ExpiresAt:    moment.ExpiresAt.UnixMilli(),
	}

	if err := h.SendToUser(initiatorID, takePhotoMsg); err != nil {
		log.Error().Err(err).Str("user_id", initiatorID).Msg("Failed to send take_photo to initiator")
	}

	if err := h.SendToUser(partnerID, takePhotoMsg); err != nil {
		log.Error().Err(err).Str("user_id", partnerID).Msg("Failed to send take_photo to partner")
		return err
	}

	log.Info().
		Str("initiator_id", initiatorID).
		Str("partner_id", partnerID).
		Str("sync_moment_id", moment.ID).
		Msg("Photo triggered")

	return nil
}

// notifyPartnerStatus looks up the partner and tells them about userID
func (h *SessionHub) notifyPartnerStatus(userID string, online bool) {
	if h.users == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user, err := h.users.GetByID(ctx, userID)
	if err != nil || user.PartnerID == nil {
		return
	}
	h.NotifyPartnerStatus(userID, *user.PartnerID, online)
}

// NotifyPartnerStatus notifies partner about online/offline status
func (h *SessionHub) NotifyPartnerStatus(userID, partnerID string, online bool) {
	if partnerID == "" || !h.IsOnline(partnerID) {
		return
	}

	message := WSMessage{
		Type:   "partner_status",
		Online: &online,
	}

	if err := h.SendToUser(partnerID, message); err != nil {
		log.Error().
			Err(err).
			Str("user_id", partnerID).
			Msg("Failed to notify partner status")
	}
}

// Close drops every connection and session
func (h *SessionHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
		if c.Session != nil {
			c.Session.Close()
		}
		metrics.SessionsActive.Dec()
	}
}
