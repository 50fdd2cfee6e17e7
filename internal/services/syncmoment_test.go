package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncMomentStartNudgesPartner(t *testing.T) {
	e := newPairedEnv(t)

	moment, err := e.momentSvc.Start(context.Background(), e.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, e.couple.ID, moment.CoupleID)
	assert.True(t, moment.ExpiresAt.Equal(t0.Add(e.settings.SyncMomentWindow)))
	assert.Equal(t, []string{e.bob.ID}, e.nudger.nudged)

	loner := e.createUser(t, "carol")
	_, err = e.momentSvc.Start(context.Background(), loner.ID)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSyncMomentCompletesWithBothPhotos(t *testing.T) {
	e := newPairedEnv(t)
	ctx := context.Background()
	moment, err := e.momentSvc.Start(ctx, e.alice.ID)
	require.NoError(t, err)

	res, err := e.photoSvc.UploadPhoto(ctx, UploadInput{SenderID: e.bob.ID, CoupleID: e.couple.ID, Image: testJPEG(t), SyncMomentID: moment.ID})
	require.NoError(t, err)
	assert.True(t, res.Photo.IsSyncMoment)
	require.NotNil(t, res.Photo.SyncMomentPairID)
	assert.Equal(t, moment.ID, *res.Photo.SyncMomentPairID)

	half, err := e.moments.GetByID(ctx, moment.ID)
	require.NoError(t, err)
	assert.False(t, half.Complete)

	e.clock.Advance(time.Minute)
	done, err := e.momentSvc.Contribute(ctx, moment.ID, e.alice.ID, "photo-a")
	require.NoError(t, err)
	assert.True(t, done.Complete)

	stored, err := e.moments.GetByID(ctx, moment.ID)
	require.NoError(t, err)
	assert.True(t, stored.Complete)
	assert.NotNil(t, stored.User1CompletedAt)
	assert.NotNil(t, stored.User2CompletedAt)
}

func TestSyncMomentRejectsLateAndForeignPhotos(t *testing.T) {
	e := newPairedEnv(t)
	ctx := context.Background()
	moment, err := e.momentSvc.Start(ctx, e.alice.ID)
	require.NoError(t, err)

	outsider := e.createUser(t, "mallory")
	_, err = e.momentSvc.Contribute(ctx, moment.ID, outsider.ID, "p")
	assert.ErrorIs(t, err, ErrNotConnected)

	e.clock.Advance(e.settings.SyncMomentWindow + time.Second)
	_, err = e.momentSvc.Contribute(ctx, moment.ID, e.bob.ID, "p")
	assert.ErrorIs(t, err, ErrSyncMomentExpired)

	_, err = e.momentSvc.Contribute(ctx, "missing", e.bob.ID, "p")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepExpiredRemovesStaleIncompleteMoments(t *testing.T) {
	e := newPairedEnv(t)
	ctx := context.Background()
	stale, err := e.momentSvc.Start(ctx, e.alice.ID)
	require.NoError(t, err)

	finished, err := e.momentSvc.Start(ctx, e.bob.ID)
	require.NoError(t, err)
	_, err = e.momentSvc.Contribute(ctx, finished.ID, e.alice.ID, "a")
	require.NoError(t, err)
	_, err = e.momentSvc.Contribute(ctx, finished.ID, e.bob.ID, "b")
	require.NoError(t, err)

	removed, err := e.momentSvc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	e.clock.Advance(e.settings.SyncMomentWindow + e.settings.SyncMomentRetention + time.Minute)
	fresh, err := e.momentSvc.Start(ctx, e.alice.ID)
	require.NoError(t, err)

	removed, err = e.momentSvc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = e.moments.GetByID(ctx, stale.ID)
	assert.Error(t, err)
	_, err = e.moments.GetByID(ctx, finished.ID)
	assert.NoError(t, err)
	_, err = e.moments.GetByID(ctx, fresh.ID)
	assert.NoError(t, err)
}
