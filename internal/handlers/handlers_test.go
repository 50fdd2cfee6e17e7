package handlers

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"couple-sync-backend/internal/blob"
	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/notify"
	"couple-sync-backend/internal/repository"
	"couple-sync-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiClient struct {
	t      *testing.T
	server *httptest.Server
	photos *services.PhotoService
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	store := docstore.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	settings := services.DefaultSettings()
	settings.JWTSecret = "handler-secret"
	settings.StreakLocation = time.UTC
	settings.Tx = docstore.TxOptions{MaxAttempts: 20, BaseBackoff: time.Millisecond}
	clock := services.SystemClock()

	users := repository.NewUserRepository(store)
	couples := repository.NewCoupleRepository(store)
	invites := repository.NewInviteRepository(store)
	photos := repository.NewPhotoRepository(store)
	moments := repository.NewSyncMomentRepository(store)

	hub := services.NewSessionHub(users)
	t.Cleanup(hub.Close)

	userSvc := services.NewUserService(users, clock, settings)
	coupleSvc := services.NewCoupleService(store, couples, users, clock, settings)
	pairing := services.NewPairingService(store, invites, users, coupleSvc, clock, settings)
	momentSvc := services.NewSyncMomentService(store, moments, couples, users, hub, clock, settings)
	photoSvc := services.NewPhotoService(photos, users, coupleSvc, momentSvc, blob.NewMemoryStore(""), notify.NewLogNotifier(zerolog.Nop()), clock, settings)

	router := NewRouter(RouterConfig{JoinRateLimit: 100}, Handlers{
		Users:  NewUserHandler(userSvc),
		Pairs:  NewPairHandler(pairing, coupleSvc, userSvc, hub),
		Photos: NewPhotoHandler(photoSvc, momentSvc),
		WebSocket: NewWebSocketHandler(hub, userSvc, momentSvc, services.SessionDeps{
			Users: users, Couples: couples, Photos: photos, Invites: invites, FeedLimit: settings.FeedLimit,
		}),
		Auth: userSvc,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &apiClient{t: t, server: srv, photos: photoSvc}
}

func (c *apiClient) do(method, path, token string, body io.Reader, contentType string) (*http.Response, []byte) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.server.URL+path, body)
	require.NoError(c.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, data
}

func (c *apiClient) json(method, path, token string, in any, out any) int {
	c.t.Helper()
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		require.NoError(c.t, err)
		body = bytes.NewReader(data)
	}
	resp, data := c.do(method, path, token, body, "application/json")
	if out != nil && len(data) > 0 {
		require.NoError(c.t, json.Unmarshal(data, out), string(data))
	}
	return resp.StatusCode
}

func (c *apiClient) signUp(name string) (string, string) {
	c.t.Helper()
	var res struct {
		User  struct{ ID string } `json:"user"`
		Token string              `json:"token"`
	}
	status := c.json(http.MethodPost, "/api/v1/users", "", CreateUserRequest{PhoneNumber: "+1555" + name, DisplayName: name}, &res)
	require.Equal(c.t, http.StatusCreated, status)
	return res.User.ID, res.Token
}

func (c *apiClient) upload(token string) (*http.Response, []byte) {
	c.t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for x := 0; x < 400; x++ {
		img.Set(x, x%300, color.RGBA{R: 255, A: 255})
	}
	var jpg bytes.Buffer
	require.NoError(c.t, jpeg.Encode(&jpg, img, nil))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "photo.jpg")
	require.NoError(c.t, err)
	_, err = fw.Write(jpg.Bytes())
	require.NoError(c.t, err)
	require.NoError(c.t, mw.WriteField("caption", "sunset"))
	require.NoError(c.t, mw.Close())
	return c.do(http.MethodPost, "/api/v1/photos", token, &body, mw.FormDataContentType())
}

func TestHealthAndMetrics(t *testing.T) {
	api := newAPI(t)
	resp, body := api.do(http.MethodGet, "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, _ = api.do(http.MethodGet, "/metrics", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUserEndpoints(t *testing.T) {
	api := newAPI(t)
	id, token := api.signUp("alice")

	var errResp ErrorResponse
	assert.Equal(t, http.StatusUnauthorized, api.json(http.MethodGet, "/api/v1/users/me", "", nil, &errResp))
	assert.Equal(t, string(services.KindNotAuthenticated), errResp.Kind)

	var me struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
		CurrentMood string `json:"currentMood"`
	}
	require.Equal(t, http.StatusOK, api.json(http.MethodGet, "/api/v1/users/me", token, nil, &me))
	assert.Equal(t, id, me.ID)

	status := api.json(http.MethodPatch, "/api/v1/users/me", token, map[string]string{"display_name": "Ally", "mood": "loved"}, &me)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Ally", me.DisplayName)
	assert.Equal(t, "loved", me.CurrentMood)

	status = api.json(http.MethodPatch, "/api/v1/users/me", token, map[string]string{"mood": "grumpy"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(services.KindInvalidArgument), errResp.Kind)

	status = api.json(http.MethodPost, "/api/v1/users", "", map[string]string{"display_name": " "}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPairingAndPhotoFlow(t *testing.T) {
	api := newAPI(t)
	aliceID, alice := api.signUp("alice")
	bobID, bob := api.signUp("bob")

	var invite struct {
		Code string `json:"code"`
	}
	require.Equal(t, http.StatusCreated, api.json(http.MethodPost, "/api/v1/invites", alice, nil, &invite))
	assert.True(t, strings.HasPrefix(invite.Code, "LOVE-"))

	var errResp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, api.json(http.MethodPost, "/api/v1/invites/join", alice, JoinRequest{Code: invite.Code}, &errResp))
	assert.Equal(t, string(services.KindCannotUseSelf), errResp.Kind)
	assert.Equal(t, http.StatusBadRequest, api.json(http.MethodPost, "/api/v1/invites/join", bob, JoinRequest{Code: "nope"}, &errResp))
	assert.Equal(t, string(services.KindInvalidCode), errResp.Kind)

	var status services.CoupleStatus
	require.Equal(t, http.StatusCreated, api.json(http.MethodPost, "/api/v1/invites/join", bob, JoinRequest{Code: strings.ToLower(invite.Code)}, &status))
	assert.Equal(t, aliceID, status.PartnerID)

	assert.Equal(t, http.StatusConflict, api.json(http.MethodPost, "/api/v1/invites/join", bob, JoinRequest{Code: invite.Code}, &errResp))
	assert.Equal(t, string(services.KindCodeAlreadyUsed), errResp.Kind)

	require.Equal(t, http.StatusOK, api.json(http.MethodGet, "/api/v1/couples/me", alice, nil, &status))
	assert.Equal(t, bobID, status.PartnerID)

	resp, body := api.upload(alice)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var uploaded struct {
		Photo struct {
			ID string `json:"id"`
		} `json:"photo"`
		Couple struct {
			StreakCount int `json:"streakCount"`
		} `json:"couple"`
	}
	require.NoError(t, json.Unmarshal(body, &uploaded))
	assert.Equal(t, 1, uploaded.Couple.StreakCount)
	api.photos.Wait()

	var feed struct {
		Total int `json:"total"`
	}
	require.Equal(t, http.StatusOK, api.json(http.MethodGet, "/api/v1/photos?filter=received", bob, nil, &feed))
	assert.Equal(t, 1, feed.Total)
	require.Equal(t, http.StatusOK, api.json(http.MethodGet, "/api/v1/photos?filter=sent", bob, nil, &feed))
	assert.Equal(t, 0, feed.Total)
	assert.Equal(t, http.StatusBadRequest, api.json(http.MethodGet, "/api/v1/photos?filter=bogus", bob, nil, nil))

	photoPath := "/api/v1/photos/" + uploaded.Photo.ID
	assert.Equal(t, http.StatusNoContent, api.json(http.MethodPut, photoPath+"/reaction", bob, ReactionRequest{Reaction: "heart"}, nil))
	assert.Equal(t, http.StatusBadRequest, api.json(http.MethodPut, photoPath+"/reaction", bob, ReactionRequest{Reaction: "meh"}, nil))
	require.Equal(t, http.StatusOK, api.json(http.MethodGet, "/api/v1/photos?filter=favorites", alice, nil, &feed))
	assert.Equal(t, 1, feed.Total)
	assert.Equal(t, http.StatusNoContent, api.json(http.MethodDelete, photoPath+"/reaction", bob, nil, nil))
	assert.Equal(t, http.StatusNoContent, api.json(http.MethodPost, photoPath+"/view", bob, nil, nil))
	assert.Equal(t, http.StatusOK, api.json(http.MethodGet, photoPath, bob, nil, nil))
	assert.Equal(t, http.StatusNoContent, api.json(http.MethodDelete, photoPath, bob, nil, nil))
	assert.Equal(t, http.StatusNotFound, api.json(http.MethodGet, photoPath, bob, nil, nil))

	assert.Equal(t, http.StatusNoContent, api.json(http.MethodDelete, "/api/v1/couples/me", bob, nil, nil))
	assert.Equal(t, http.StatusNotFound, api.json(http.MethodGet, "/api/v1/couples/me", alice, nil, &errResp))
	assert.Equal(t, string(services.KindNotConnected), errResp.Kind)
}

func TestUploadRequiresImage(t *testing.T) {
	api := newAPI(t)
	_, token := api.signUp("alice")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("caption", "no file"))
	require.NoError(t, mw.Close())
	resp, _ := api.do(http.MethodPost, "/api/v1/photos", token, &body, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = api.upload(token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func readWS(t *testing.T, conn *websocket.Conn, match func(services.WSMessage) bool) services.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg services.WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if match(msg) {
			return msg
		}
	}
}

func TestWebSocketSession(t *testing.T) {
	api := newAPI(t)
	_, alice := api.signUp("alice")
	_, bob := api.signUp("bob")
	wsURL := "ws" + strings.TrimPrefix(api.server.URL, "http") + "/ws?token="

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+alice, nil)
	require.NoError(t, err)
	defer conn.Close()
	readWS(t, conn, func(m services.WSMessage) bool { return m.Type == string(services.EventUser) })

	require.NoError(t, conn.WriteJSON(services.WSMessage{Type: "ping"}))
	readWS(t, conn, func(m services.WSMessage) bool { return m.Type == "pong" })

	require.NoError(t, conn.WriteJSON(services.WSMessage{Type: "dance"}))
	msg := readWS(t, conn, func(m services.WSMessage) bool { return m.Type == "error" })
	assert.Equal(t, "Unknown message type", msg.Message)

	var invite struct {
		Code string `json:"code"`
	}
	require.Equal(t, http.StatusCreated, api.json(http.MethodPost, "/api/v1/invites", alice, nil, &invite))
	readWS(t, conn, func(m services.WSMessage) bool { return m.Type == string(services.EventInvite) })

	require.Equal(t, http.StatusCreated, api.json(http.MethodPost, "/api/v1/invites/join", bob, JoinRequest{Code: invite.Code}, nil))
	readWS(t, conn, func(m services.WSMessage) bool { return m.Type == string(services.EventPartnerConnected) })
}
