package notify

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogNotifierWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))

	err := n.NotifyNewPhoto(context.Background(), NewPhoto{
		RecipientToken: "tok",
		SenderName:     "Alice",
		PhotoID:        "p1",
		CoupleID:       "c1",
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"photo_id":"p1"`)
	assert.Contains(t, buf.String(), "New photo from Alice")
	assert.NoError(t, n.Close())
}

func TestAPNsRequiresKey(t *testing.T) {
	_, err := NewAPNsNotifier(APNsConfig{KeyPath: "/nonexistent/key.p8"})
	assert.Error(t, err)
}
