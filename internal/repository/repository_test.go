package repository

import (
	"context"
	"testing"
	"time"

	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) docstore.Store {
	t.Helper()
	s := docstore.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserRepositoryLinkAndUnlink(t *testing.T) {
	ctx := context.Background()
	users := NewUserRepository(newStore(t))

	user := &models.User{PhoneNumber: "+15550100", DisplayName: "Alice", CreatedAt: time.Now().UTC()}
	require.NoError(t, users.Create(ctx, user))
	require.NotEmpty(t, user.ID)

	require.NoError(t, users.Update(ctx, user.ID, LinkFields("bob", "c1")))
	got, err := users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PartnerID)
	assert.Equal(t, "bob", *got.PartnerID)
	assert.Equal(t, "c1", *got.CoupleID)
	assert.True(t, got.IsConnected())

	require.NoError(t, users.Update(ctx, user.ID, UnlinkFields()))
	got, err = users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PartnerID)
	assert.Nil(t, got.CoupleID)
	assert.Equal(t, "Alice", got.DisplayName)

	_, err = users.GetByID(ctx, "nobody")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestInviteRepositoryUnusedByCreator(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	invites := NewInviteRepository(store)

	now := time.Now().UTC()
	used := "bob"
	b := docstore.NewBatch()
	b.Create(invites.Ref("LOVE-AAAA"), models.InviteCode{Code: "LOVE-AAAA", CreatorID: "alice", CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	b.Create(invites.Ref("LOVE-BBBB"), models.InviteCode{Code: "LOVE-BBBB", CreatorID: "alice", CreatedAt: now, ExpiresAt: now.Add(time.Hour), UsedBy: &used})
	b.Create(invites.Ref("LOVE-CCCC"), models.InviteCode{Code: "LOVE-CCCC", CreatorID: "carol", CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, b.Commit(ctx, store))

	unused, err := invites.GetUnusedByCreator(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, unused, 1)
	assert.Equal(t, "LOVE-AAAA", unused[0].Code)
}

func TestPhotoRepositoryRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	photos := NewPhotoRepository(newStore(t))

	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		coupleID := "c1"
		if i == 4 {
			coupleID = "c2"
		}
		require.NoError(t, photos.Create(ctx, &models.Photo{
			SenderID:  "alice",
			CoupleID:  coupleID,
			ImageURL:  "https://example.test/p.jpg",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent, err := photos.GetRecentByCouple(ctx, "c1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.True(t, base.Add(3*time.Minute).Equal(recent[0].CreatedAt))
	assert.True(t, base.Add(time.Minute).Equal(recent[2].CreatedAt))
	for _, p := range recent {
		assert.NotEmpty(t, p.ID)
		assert.Equal(t, "c1", p.CoupleID)
	}
}

func TestSyncMomentRepositoryIncomplete(t *testing.T) {
	ctx := context.Background()
	moments := NewSyncMomentRepository(newStore(t))

	now := time.Now().UTC()
	require.NoError(t, moments.Create(ctx, &models.SyncMoment{CoupleID: "c1", InitiatorID: "alice", ExpiresAt: now, CreatedAt: now}))
	require.NoError(t, moments.Create(ctx, &models.SyncMoment{CoupleID: "c1", InitiatorID: "alice", Complete: true, ExpiresAt: now, CreatedAt: now}))

	open, err := moments.GetIncomplete(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.False(t, open[0].Complete)
}
