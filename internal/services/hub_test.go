package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"couple-sync-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	messages []WSMessage
	closed   bool
	fail     bool
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return errors.New("connection closed")
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) ofType(t string) []WSMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []WSMessage
	for _, m := range c.messages {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestHubNudgePartnerRequiresOnlinePartner(t *testing.T) {
	hub := NewSessionHub(nil)
	moment := &models.SyncMoment{ID: "m1", CreatedAt: t0, ExpiresAt: t0.Add(5 * time.Minute)}

	alice := &fakeConn{}
	hub.Register("alice", alice, nil)
	assert.Error(t, hub.NudgePartner("alice", "bob", moment))

	bob := &fakeConn{}
	hub.Register("bob", bob, nil)
	require.NoError(t, hub.NudgePartner("alice", "bob", moment))

	for _, conn := range []*fakeConn{alice, bob} {
		msgs := conn.ofType("take_photo")
		require.Len(t, msgs, 1)
		assert.Equal(t, "m1", msgs[0].SyncMomentID)
		assert.Equal(t, "alice", msgs[0].InitiatorID)
		assert.Equal(t, t0.Add(5*time.Minute).UnixMilli(), msgs[0].ExpiresAt)
	}
}

func TestHubRegisterReplacesPreviousConnection(t *testing.T) {
	hub := NewSessionHub(nil)
	first := &fakeConn{}
	old := hub.Register("alice", first, nil)
	second := &fakeConn{}
	hub.Register("alice", second, nil)

	assert.True(t, first.isClosed())
	hub.Unregister(old)
	assert.True(t, hub.IsOnline("alice"))

	require.NoError(t, hub.SendToUser("alice", WSMessage{Type: "pong"}))
	assert.Len(t, second.ofType("pong"), 1)
	assert.Empty(t, first.ofType("pong"))
}

func TestHubSendFailureUnregisters(t *testing.T) {
	hub := NewSessionHub(nil)
	conn := &fakeConn{fail: true}
	hub.Register("alice", conn, nil)

	assert.Error(t, hub.SendToUser("alice", WSMessage{Type: "pong"}))
	assert.False(t, hub.IsOnline("alice"))
	assert.Error(t, hub.SendToUser("alice", WSMessage{Type: "pong"}))
}

func TestHubTellsPartnerAboutPresence(t *testing.T) {
	e := newPairedEnv(t)
	hub := NewSessionHub(e.users)

	bobConn := &fakeConn{}
	hub.Register(e.bob.ID, bobConn, nil)
	aliceClient := hub.Register(e.alice.ID, &fakeConn{}, nil)

	online := func(want bool) func() bool {
		return func() bool {
			for _, m := range bobConn.ofType("partner_status") {
				if m.Online != nil && *m.Online == want {
					return true
				}
			}
			return false
		}
	}
	assert.Eventually(t, online(true), 2*time.Second, 10*time.Millisecond)

	hub.Unregister(aliceClient)
	assert.Eventually(t, online(false), 2*time.Second, 10*time.Millisecond)
}

func TestHubCloseEndsSessions(t *testing.T) {
	e := newTestEnv(t)
	alice := e.createUser(t, "alice")
	sess := NewSession(alice.ID, SessionDeps{Users: e.users, Couples: e.couples, Photos: e.photos, Invites: e.invites})
	require.NoError(t, sess.Start(context.Background()))

	hub := NewSessionHub(nil)
	conn := &fakeConn{}
	hub.Register(alice.ID, conn, sess)
	assert.Same(t, sess, hub.Session(alice.ID))

	hub.Close()
	assert.True(t, conn.isClosed())
	assert.False(t, hub.IsOnline(alice.ID))
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session still running")
	}
}
