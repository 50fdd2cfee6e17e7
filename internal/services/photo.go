package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"couple-sync-backend/internal/blob"
	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/notify"
	"couple-sync-backend/internal/repository"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const notifyTimeout = 10 * time.Second

// PhotoService handles photo-related business logic
type PhotoService struct {
	photos   *repository.PhotoRepository
	users    *repository.UserRepository
	couples  *CoupleService
	moments  *SyncMomentService
	blobs    blob.Store
	notifier notify.Notifier
	clock    Clock
	settings Settings
	pending  sync.WaitGroup
}

// NewPhotoService creates a new photo service
func NewPhotoService(
	photos *repository.PhotoRepository,
	users *repository.UserRepository,
	couples *CoupleService,
	moments *SyncMomentService,
	blobs blob.Store,
	notifier notify.Notifier,
	clock Clock,
	settings Settings,
) *PhotoService {
	return &PhotoService{
		photos:   photos,
		users:    users,
		couples:  couples,
		moments:  moments,
		blobs:    blobs,
		notifier: notifier,
		clock:    clock,
		settings: settings,
	}
}

// UploadInput is a photo to share with the partner
type UploadInput struct {
	SenderID     string
	CoupleID     string
	Image        []byte
	ContentType  string
	Caption      *string
	IsSyncMoment bool
	SyncMomentID string
}

// UploadResult reports the stored photo and the streak outcome. A streak
// failure does not undo the photo.
type UploadResult struct {
	Photo       *models.Photo  `json:"photo"`
	Streak      *StreakUpdate  `json:"-"`
	Couple      *models.Couple `json:"couple,omitempty"`
	Milestone   string         `json:"milestone,omitempty"`
	StreakError string         `json:"streakError,omitempty"`
}

// member loads userID and checks it belongs to coupleID
func (s *PhotoService) member(ctx context.Context, userID, coupleID string) (*models.User, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	if !user.IsConnected() || (coupleID != "" && *user.CoupleID != coupleID) {
		return nil, ErrNotConnected
	}
	return user, nil
}

// UploadPhoto stores the image and its thumbnail, records the photo, counts
// it towards the streak and notifies the partner
func (s *PhotoService) UploadPhoto(ctx context.Context, in UploadInput) (res *UploadResult, err error) {
	defer func() {
		metrics.PhotoUploadsTotal.WithLabelValues(metrics.Result(err)).Inc()
	}()

	sender, err := s.member(ctx, in.SenderID, in.CoupleID)
	if err != nil {
		return nil, err
	}
	coupleID := *sender.CoupleID
	if len(in.Image) == 0 {
		return nil, ErrCompressionFailed
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	thumb, err := blob.Thumbnail(in.Image, s.settings.ThumbnailWidth)
	if err != nil {
		return nil, wrap(ErrCompressionFailed, err)
	}

	photoID := s.photos.NewID()
	imagePath := blob.ImagePath(coupleID, photoID)
	thumbPath := blob.ThumbnailPath(coupleID, photoID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.blobs.Put(gctx, imagePath, in.Image, contentType)
	})
	g.Go(func() error {
		return s.blobs.Put(gctx, thumbPath, thumb, "image/jpeg")
	})
	if err := g.Wait(); err != nil {
		s.cleanupBlobs(ctx, imagePath, thumbPath)
		return nil, wrap(ErrUploadFailed, err)
	}

	imageURL, err := s.blobs.URL(ctx, imagePath)
	if err != nil {
		s.cleanupBlobs(ctx, imagePath, thumbPath)
		return nil, wrap(ErrUploadFailed, err)
	}
	thumbURL, err := s.blobs.URL(ctx, thumbPath)
	if err != nil {
		s.cleanupBlobs(ctx, imagePath, thumbPath)
		return nil, wrap(ErrUploadFailed, err)
	}

	photo := &models.Photo{
		ID:           photoID,
		SenderID:     sender.ID,
		CoupleID:     coupleID,
		ImageURL:     imageURL,
		ThumbnailURL: &thumbURL,
		Caption:      in.Caption,
		IsSyncMoment: in.IsSyncMoment || in.SyncMomentID != "",
		CreatedAt:    s.clock.Now().UTC(),
	}
	if in.SyncMomentID != "" {
		momentID := in.SyncMomentID
		photo.SyncMomentPairID = &momentID
	}
	if err := s.photos.Create(ctx, photo); err != nil {
		s.cleanupBlobs(ctx, imagePath, thumbPath)
		return nil, wrap(ErrUploadFailed, err)
	}

	log.Info().
		Str("photo_id", photoID).
		Str("couple_id", coupleID).
		Str("sender_id", sender.ID).
		Int("bytes", len(in.Image)).
		Msg("Photo uploaded")

	res = &UploadResult{Photo: photo}
	streak, err := s.couples.UpdateStreakOnNewPhoto(ctx, coupleID)
	if err != nil {
		log.Error().Err(err).Str("couple_id", coupleID).Str("photo_id", photoID).Msg("Failed to update streak")
		res.StreakError = Message(err)
	} else {
		res.Streak = streak
		res.Couple = streak.Couple
		if streak.Milestone != nil {
			res.Milestone = streak.Milestone.Title()
		}
	}

	if in.SyncMomentID != "" && s.moments != nil {
		if _, err := s.moments.Contribute(ctx, in.SyncMomentID, sender.ID, photoID); err != nil {
			log.Warn().Err(err).Str("sync_moment_id", in.SyncMomentID).Str("photo_id", photoID).Msg("Failed to attach photo to sync moment")
		}
	}

	s.notifyPartner(ctx, sender, photo)
	return res, nil
}

func (s *PhotoService) cleanupBlobs(ctx context.Context, paths ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, p := range paths {
		if err := s.blobs.Delete(ctx, p); err != nil && !errors.Is(err, blob.ErrNotFound) {
			log.Warn().Err(err).Str("path", p).Msg("Failed to remove orphaned blob")
		}
	}
}

// notifyPartner fires the new photo notification without waiting for it
func (s *PhotoService) notifyPartner(ctx context.Context, sender *models.User, photo *models.Photo) {
	if s.notifier == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()

		partner, err := s.users.GetByID(ctx, *sender.PartnerID)
		if err != nil {
			metrics.NotificationsTotal.WithLabelValues("error").Inc()
			log.Warn().Err(err).Str("photo_id", photo.ID).Msg("Failed to load partner for notification")
			return
		}
		if partner.FCMToken == nil || *partner.FCMToken == "" {
			metrics.NotificationsTotal.WithLabelValues("skipped").Inc()
			log.Debug().Str("partner_id", partner.ID).Msg("Partner has no device token, skipping notification")
			return
		}
		err = s.notifier.NotifyNewPhoto(ctx, notify.NewPhoto{
			RecipientToken: *partner.FCMToken,
			SenderName:     sender.DisplayName,
			PhotoID:        photo.ID,
			CoupleID:       photo.CoupleID,
		})
		metrics.NotificationsTotal.WithLabelValues(metrics.Result(err)).Inc()
		if err != nil {
			log.Warn().Err(err).Str("photo_id", photo.ID).Str("partner_id", partner.ID).Msg("Failed to send photo notification")
		}
	}()
}

// Wait blocks until in-flight notifications finish
func (s *PhotoService) Wait() {
	s.pending.Wait()
}

// photoFor loads a photo the user is allowed to see
func (s *PhotoService) photoFor(ctx context.Context, userID, photoID string) (*models.Photo, error) {
	user, err := s.member(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	photo, err := s.photos.GetByID(ctx, photoID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, wrap(ErrNotFound, err)
		}
		return nil, err
	}
	if photo.CoupleID != *user.CoupleID {
		return nil, ErrNotFound
	}
	return photo, nil
}

// GetPhoto returns a photo with freshly resolved download URLs
func (s *PhotoService) GetPhoto(ctx context.Context, userID, photoID string) (*models.Photo, error) {
	photo, err := s.photoFor(ctx, userID, photoID)
	if err != nil {
		return nil, err
	}
	imageURL, err := s.blobs.URL(ctx, blob.ImagePath(photo.CoupleID, photo.ID))
	if err != nil {
		return nil, wrap(ErrDownloadFailed, err)
	}
	photo.ImageURL = imageURL
	if thumbURL, err := s.blobs.URL(ctx, blob.ThumbnailPath(photo.CoupleID, photo.ID)); err == nil {
		photo.ThumbnailURL = &thumbURL
	}
	return photo, nil
}

// ReactToPhoto sets the reaction, replacing any previous one
func (s *PhotoService) ReactToPhoto(ctx context.Context, userID, photoID string, reaction models.PhotoReaction) error {
	if !reaction.Valid() {
		return wrap(ErrInvalidArgument, fmt.Errorf("unknown reaction %q", reaction))
	}
	if _, err := s.photoFor(ctx, userID, photoID); err != nil {
		return err
	}
	return s.photos.Update(ctx, photoID, map[string]any{repository.PhotoFieldReaction: reaction})
}

// ClearReaction removes the reaction
func (s *PhotoService) ClearReaction(ctx context.Context, userID, photoID string) error {
	if _, err := s.photoFor(ctx, userID, photoID); err != nil {
		return err
	}
	return s.photos.Update(ctx, photoID, map[string]any{repository.PhotoFieldReaction: nil})
}

// MarkAsViewed stamps viewedAt with the current time on every call
func (s *PhotoService) MarkAsViewed(ctx context.Context, userID, photoID string) error {
	if _, err := s.photoFor(ctx, userID, photoID); err != nil {
		return err
	}
	return s.photos.Update(ctx, photoID, map[string]any{repository.PhotoFieldViewedAt: s.clock.Now().UTC()})
}

// DeletePhoto removes the image, its thumbnail and the photo document. A
// missing thumbnail is tolerated; a failure on the image or the document is
// returned.
func (s *PhotoService) DeletePhoto(ctx context.Context, userID, photoID string) error {
	photo, err := s.photoFor(ctx, userID, photoID)
	if err != nil {
		return err
	}

	imagePath := blob.ImagePath(photo.CoupleID, photo.ID)
	if err := s.blobs.Delete(ctx, imagePath); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return wrap(ErrDeleteFailed, err)
	}
	if err := s.blobs.Delete(ctx, blob.ThumbnailPath(photo.CoupleID, photo.ID)); err != nil && !errors.Is(err, blob.ErrNotFound) {
		log.Warn().Err(err).Str("photo_id", photo.ID).Msg("Failed to delete thumbnail")
	}
	if err := s.photos.Delete(ctx, photo.ID); err != nil {
		return wrap(ErrDeleteFailed, err)
	}

	log.Info().Str("photo_id", photo.ID).Str("user_id", userID).Msg("Photo deleted")
	return nil
}

// RecentPhotos returns the newest photos of the user's couple
func (s *PhotoService) RecentPhotos(ctx context.Context, userID string) ([]*models.Photo, error) {
	user, err := s.member(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	return s.photos.GetRecentByCouple(ctx, *user.CoupleID, s.settings.FeedLimit)
}

// FilterPhotos selects photos relative to userID. Favorites are photos with
// any reaction, whoever sent them.
func FilterPhotos(photos []*models.Photo, filter models.PhotoFilter, userID string) []*models.Photo {
	out := make([]*models.Photo, 0, len(photos))
	for _, p := range photos {
		switch filter {
		case models.FilterSent:
			if p.SenderID != userID {
				continue
			}
		case models.FilterReceived:
			if p.SenderID == userID {
				continue
			}
		case models.FilterFavorites:
			if p.Reaction == nil {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}
