package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"couple-sync-backend/internal/blob"
	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/notify"
	"couple-sync-backend/internal/repository"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.NewPhoto
	err  error
}

func (n *recordingNotifier) NotifyNewPhoto(ctx context.Context, p notify.NewPhoto) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, p)
	return n.err
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) Sent() []notify.NewPhoto {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.NewPhoto(nil), n.sent...)
}

type recordingNudger struct {
	mu     sync.Mutex
	nudged []string
}

func (n *recordingNudger) NudgePartner(initiatorID, partnerID string, moment *models.SyncMoment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nudged = append(n.nudged, partnerID)
	return nil
}

type testEnv struct {
	store    docstore.Store
	clock    *fakeClock
	settings Settings

	users   *repository.UserRepository
	couples *repository.CoupleRepository
	invites *repository.InviteRepository
	photos  *repository.PhotoRepository
	moments *repository.SyncMomentRepository

	blobs    *blob.MemoryStore
	notifier *recordingNotifier
	nudger   *recordingNudger

	userSvc   *UserService
	coupleSvc *CoupleService
	pairing   *PairingService
	momentSvc *SyncMomentService
	photoSvc  *PhotoService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvOn(t, docstore.NewMemoryStore())
}

// newTestEnvOn builds the services over store, closing it at cleanup
func newTestEnvOn(t *testing.T, store docstore.Store) *testEnv {
	t.Helper()
	t.Cleanup(func() { store.Close() })

	settings := DefaultSettings()
	settings.StreakLocation = time.UTC
	settings.Tx = docstore.TxOptions{MaxAttempts: 50, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	settings.JWTSecret = "test-secret"

	e := &testEnv{
		store:    store,
		clock:    newFakeClock(t0),
		settings: settings,
		users:    repository.NewUserRepository(store),
		couples:  repository.NewCoupleRepository(store),
		invites:  repository.NewInviteRepository(store),
		photos:   repository.NewPhotoRepository(store),
		moments:  repository.NewSyncMomentRepository(store),
		blobs:    blob.NewMemoryStore("https://blobs.test"),
		notifier: &recordingNotifier{},
		nudger:   &recordingNudger{},
	}
	e.userSvc = NewUserService(e.users, e.clock, settings)
	e.coupleSvc = NewCoupleService(store, e.couples, e.users, e.clock, settings)
	e.pairing = NewPairingService(store, e.invites, e.users, e.coupleSvc, e.clock, settings)
	e.momentSvc = NewSyncMomentService(store, e.moments, e.couples, e.users, e.nudger, e.clock, settings)
	e.photoSvc = NewPhotoService(e.photos, e.users, e.coupleSvc, e.momentSvc, e.blobs, e.notifier, e.clock, settings)
	return e
}

func (e *testEnv) createUser(t *testing.T, name string) *models.User {
	t.Helper()
	user, _, err := e.userSvc.CreateUser(context.Background(), "+1555"+name, name)
	require.NoError(t, err)
	return user
}

func (e *testEnv) pair(t *testing.T, creator, joiner *models.User) *models.Couple {
	t.Helper()
	ctx := context.Background()
	invite, err := e.pairing.GenerateInviteCode(ctx, creator.ID)
	require.NoError(t, err)
	couple, err := e.pairing.JoinWithCode(ctx, invite.Code, joiner.ID)
	require.NoError(t, err)
	return couple
}

func (e *testEnv) reloadUser(t *testing.T, id string) *models.User {
	t.Helper()
	user, err := e.users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return user
}

func (e *testEnv) reloadCouple(t *testing.T, id string) *models.Couple {
	t.Helper()
	couple, err := e.couples.GetByID(context.Background(), id)
	require.NoError(t, err)
	return couple
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y += 4 {
		for x := 0; x < 640; x += 4 {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func strPtr(s string) *string { return &s }

func couplesQuery() docstore.Query {
	return docstore.Query{Collection: repository.CouplesCollection}
}

var errInjected = errors.New("injected commit failure")

// faultyStore fails any commit containing a write that matches failOn
type faultyStore struct {
	docstore.Store

	mu     sync.Mutex
	failOn func(docstore.Write) bool
}

func (s *faultyStore) setFailOn(fn func(docstore.Write) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn = fn
}

func (s *faultyStore) Commit(ctx context.Context, writes []docstore.Write) error {
	s.mu.Lock()
	failOn := s.failOn
	s.mu.Unlock()
	if failOn != nil {
		for _, w := range writes {
			if failOn(w) {
				return errInjected
			}
		}
	}
	return s.Store.Commit(ctx, writes)
}

func writesTo(collection string, op docstore.Op) func(docstore.Write) bool {
	return func(w docstore.Write) bool {
		return w.Ref.Collection == collection && w.Op == op
	}
}
