package repository

import (
	"context"

	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/models"
)

// Couple document fields written by the streak transaction
const (
	CoupleFieldStreakCount      = "streakCount"
	CoupleFieldLongestStreak    = "longestStreak"
	CoupleFieldTotalPhotos      = "totalPhotosExchanged"
	CoupleFieldLastPhotoDate    = "lastPhotoDate"
	CoupleFieldLastStreakUpdate = "lastStreakUpdate"
)

// CoupleRepository handles document operations for couples
type CoupleRepository struct {
	store docstore.Store
}

// NewCoupleRepository creates a new couple repository
func NewCoupleRepository(store docstore.Store) *CoupleRepository {
	return &CoupleRepository{store: store}
}

// Ref returns the document reference of a couple
func (r *CoupleRepository) Ref(id string) docstore.Ref {
	return docstore.NewRef(CouplesCollection, id)
}

// NewID allocates an id for a couple about to be created
func (r *CoupleRepository) NewID() string {
	return r.store.NewID()
}

// GetByID retrieves a couple by ID
func (r *CoupleRepository) GetByID(ctx context.Context, id string) (*models.Couple, error) {
	couple, _, err := getDoc[models.Couple](ctx, r.store, r.Ref(id), "couple")
	if err != nil {
		return nil, err
	}
	couple.ID = id
	return couple, nil
}

// Watch subscribes to a couple document
func (r *CoupleRepository) Watch(ctx context.Context, id string) (*docstore.DocSubscription, error) {
	return r.store.Watch(ctx, r.Ref(id))
}

// DecodeCouple converts a snapshot into a couple; a missing document yields nil
func DecodeCouple(snap *docstore.Snapshot) (*models.Couple, error) {
	if !snap.Exists {
		return nil, nil
	}
	var couple models.Couple
	if err := snap.DataTo(&couple); err != nil {
		return nil, err
	}
	couple.ID = snap.Ref.ID
	return &couple, nil
}
