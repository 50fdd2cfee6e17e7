package repository

import (
	"context"
	"fmt"

	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/models"
)

// Photo document fields touched by partial updates
const (
	PhotoFieldCoupleID  = "coupleID"
	PhotoFieldCreatedAt = "createdAt"
	PhotoFieldReaction  = "reaction"
	PhotoFieldViewedAt  = "viewedAt"
	PhotoFieldSyncPair  = "syncMomentPairID"
)

// PhotoRepository handles document operations for photos
type PhotoRepository struct {
	store docstore.Store
}

// NewPhotoRepository creates a new photo repository
func NewPhotoRepository(store docstore.Store) *PhotoRepository {
	return &PhotoRepository{store: store}
}

// Ref returns the document reference of a photo
func (r *PhotoRepository) Ref(id string) docstore.Ref {
	return docstore.NewRef(PhotosCollection, id)
}

// NewID allocates a photo id before its image is uploaded
func (r *PhotoRepository) NewID() string {
	return r.store.NewID()
}

// Create stores a new photo document
func (r *PhotoRepository) Create(ctx context.Context, photo *models.Photo) error {
	if photo.ID == "" {
		photo.ID = r.store.NewID()
	}
	b := docstore.NewBatch()
	b.Create(r.Ref(photo.ID), photo)
	if err := b.Commit(ctx, r.store); err != nil {
		return fmt.Errorf("failed to create photo: %w", err)
	}
	return nil
}

// GetByID retrieves a photo by ID
func (r *PhotoRepository) GetByID(ctx context.Context, id string) (*models.Photo, error) {
	photo, _, err := getDoc[models.Photo](ctx, r.store, r.Ref(id), "photo")
	if err != nil {
		return nil, err
	}
	photo.ID = id
	return photo, nil
}

// Update merges fields into an existing photo
func (r *PhotoRepository) Update(ctx context.Context, id string, fields map[string]any) error {
	b := docstore.NewBatch()
	b.Update(r.Ref(id), fields)
	if err := b.Commit(ctx, r.store); err != nil {
		return fmt.Errorf("failed to update photo: %w", err)
	}
	return nil
}

// Delete removes a photo document
func (r *PhotoRepository) Delete(ctx context.Context, id string) error {
	b := docstore.NewBatch()
	b.Delete(r.Ref(id))
	if err := b.Commit(ctx, r.store); err != nil {
		return fmt.Errorf("failed to delete photo: %w", err)
	}
	return nil
}

// RecentQuery selects the newest photos of a couple
func RecentQuery(coupleID string, limit int) docstore.Query {
	return docstore.Query{
		Collection:  PhotosCollection,
		Where:       []docstore.Filter{{Field: PhotoFieldCoupleID, Value: coupleID}},
		OrderByTime: PhotoFieldCreatedAt,
		Desc:        true,
		Limit:       limit,
	}
}

// GetRecentByCouple retrieves the newest photos of a couple, newest first
func (r *PhotoRepository) GetRecentByCouple(ctx context.Context, coupleID string, limit int) ([]*models.Photo, error) {
	snaps, err := r.store.Query(ctx, RecentQuery(coupleID, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to get photos: %w", err)
	}
	return DecodePhotos(snaps)
}

// WatchRecentByCouple subscribes to the newest photos of a couple
func (r *PhotoRepository) WatchRecentByCouple(ctx context.Context, coupleID string, limit int) (*docstore.QuerySubscription, error) {
	return r.store.WatchQuery(ctx, RecentQuery(coupleID, limit))
}

// DecodePhotos converts query results into photos
func DecodePhotos(snaps []*docstore.Snapshot) ([]*models.Photo, error) {
	return decodeAll(snaps, func(p *models.Photo, id string) { p.ID = id })
}
