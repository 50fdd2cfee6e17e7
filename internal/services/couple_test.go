package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setStreak seeds the streak fields of a couple
func (e *testEnv) setStreak(t *testing.T, coupleID string, count, longest int, last time.Time) {
	t.Helper()
	require.NoError(t, e.store.Commit(context.Background(), []docstore.Write{{
		Op:  docstore.OpUpdate,
		Ref: e.couples.Ref(coupleID),
		Fields: map[string]any{
			repository.CoupleFieldStreakCount:      count,
			repository.CoupleFieldLongestStreak:    longest,
			repository.CoupleFieldLastStreakUpdate: last,
			repository.CoupleFieldLastPhotoDate:    last,
		},
	}}))
}

func TestCreateCoupleLinksBothUsers(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	alice := e.createUser(t, "alice")
	bob := e.createUser(t, "bob")

	couple, err := e.coupleSvc.CreateCouple(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, couple.ID, *e.reloadUser(t, alice.ID).CoupleID)
	assert.Equal(t, alice.ID, *e.reloadUser(t, bob.ID).PartnerID)
	assert.Equal(t, 0, e.reloadCouple(t, couple.ID).StreakCount)
}

func TestCreateCoupleIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	carol := e.createUser(t, "carol")

	_, err := e.coupleSvc.CreateCouple(ctx, carol.ID, "ghost")
	assert.Equal(t, KindNotFound, Kind(err))
	assert.False(t, e.reloadUser(t, carol.ID).IsConnected())

	snaps, err := e.store.Query(ctx, couplesQuery())
	require.NoError(t, err)
	assert.Empty(t, snaps)

	_, err = e.coupleSvc.CreateCouple(ctx, carol.ID, carol.ID)
	assert.ErrorIs(t, err, ErrCannotUseSelf)
}

func TestStreakFirstPhotoStartsAtOne(t *testing.T) {
	e := newTestEnv(t)
	couple := e.pair(t, e.createUser(t, "alice"), e.createUser(t, "bob"))

	upd, err := e.coupleSvc.UpdateStreakOnNewPhoto(context.Background(), couple.ID)
	require.NoError(t, err)
	assert.True(t, upd.Incremented)
	assert.Equal(t, 1, upd.Couple.StreakCount)
	assert.Equal(t, 1, upd.Couple.LongestStreak)
	assert.Equal(t, 1, upd.Couple.TotalPhotosExchanged)

	stored := e.reloadCouple(t, couple.ID)
	assert.Equal(t, 1, stored.StreakCount)
	require.NotNil(t, stored.LastStreakUpdate)
	assert.True(t, stored.LastStreakUpdate.Equal(t0))
}

func TestStreakAdvancesOncePerDay(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	couple := e.pair(t, e.createUser(t, "alice"), e.createUser(t, "bob"))
	e.setStreak(t, couple.ID, 4, 10, t0.AddDate(0, 0, -1))

	upd, err := e.coupleSvc.UpdateStreakOnNewPhoto(ctx, couple.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, upd.Couple.StreakCount)
	assert.Equal(t, 10, upd.Couple.LongestStreak)

	e.clock.Advance(3 * time.Hour)
	upd, err = e.coupleSvc.UpdateStreakOnNewPhoto(ctx, couple.ID)
	require.NoError(t, err)
	assert.False(t, upd.Incremented)
	assert.Equal(t, 5, upd.Couple.StreakCount)
	assert.Equal(t, 10, upd.Couple.LongestStreak)
	assert.Equal(t, 2, e.reloadCouple(t, couple.ID).TotalPhotosExchanged)
}

func TestStreakMissedDaysStillAddOne(t *testing.T) {
	e := newTestEnv(t)
	couple := e.pair(t, e.createUser(t, "alice"), e.createUser(t, "bob"))
	e.setStreak(t, couple.ID, 3, 3, t0.AddDate(0, 0, -10))

	upd, err := e.coupleSvc.UpdateStreakOnNewPhoto(context.Background(), couple.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, upd.Couple.StreakCount)
	assert.Equal(t, 4, upd.Couple.LongestStreak)
}

func TestStreakMilestoneReported(t *testing.T) {
	e := newTestEnv(t)
	couple := e.pair(t, e.createUser(t, "alice"), e.createUser(t, "bob"))
	e.setStreak(t, couple.ID, 6, 6, t0.AddDate(0, 0, -1))

	upd, err := e.coupleSvc.UpdateStreakOnNewPhoto(context.Background(), couple.ID)
	require.NoError(t, err)
	require.NotNil(t, upd.Milestone)
	assert.Equal(t, models.MilestoneWeek, *upd.Milestone)
}

func TestStreakUsesConfiguredTimezone(t *testing.T) {
	e := newTestEnv(t)
	tokyo := time.FixedZone("JST", 9*3600)
	e.coupleSvc.settings.StreakLocation = tokyo
	couple := e.pair(t, e.createUser(t, "alice"), e.createUser(t, "bob"))

	// 20:00 UTC on the 9th is already the 10th in JST, the same day as t0
	e.setStreak(t, couple.ID, 2, 2, time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC))
	upd, err := e.coupleSvc.UpdateStreakOnNewPhoto(context.Background(), couple.ID)
	require.NoError(t, err)
	assert.False(t, upd.Incremented)
	assert.Equal(t, 2, upd.Couple.StreakCount)
}

func TestConcurrentStreakUpdatesSameDay(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	couple := e.pair(t, e.createUser(t, "alice"), e.createUser(t, "bob"))
	e.setStreak(t, couple.ID, 8, 8, t0.AddDate(0, 0, -1))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.coupleSvc.UpdateStreakOnNewPhoto(ctx, couple.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored := e.reloadCouple(t, couple.ID)
	assert.Equal(t, 9, stored.StreakCount)
	assert.Equal(t, 2, stored.TotalPhotosExchanged)
}

func TestUpdateStreakMissingCouple(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.coupleSvc.UpdateStreakOnNewPhoto(context.Background(), "nope")
	assert.Equal(t, KindNotFound, Kind(err))

	_, err = e.coupleSvc.UpdateStreakOnNewPhoto(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCoupleStatus(t *testing.T) {
	e := newTestEnv(t)
	alice := e.createUser(t, "alice")
	bob := e.createUser(t, "bob")
	couple := e.pair(t, alice, bob)
	e.setStreak(t, couple.ID, 30, 30, t0)
	e.clock.Advance(72 * time.Hour)

	status := e.coupleSvc.Status(e.reloadCouple(t, couple.ID), bob.ID)
	assert.Equal(t, alice.ID, status.PartnerID)
	assert.False(t, status.StreakActive)
	assert.Equal(t, int64(0), status.StreakExpiresIn)
	assert.Equal(t, 3, status.DaysConnected)
	assert.Equal(t, "1 Month!", status.Milestone)
}
