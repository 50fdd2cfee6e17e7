package repository

import (
	"context"
	"fmt"

	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/models"
)

// Sync moment document fields
const (
	SyncMomentFieldComplete = "complete"
)

// SyncMomentRepository handles document operations for sync moments
type SyncMomentRepository struct {
	store docstore.Store
}

// NewSyncMomentRepository creates a new sync moment repository
func NewSyncMomentRepository(store docstore.Store) *SyncMomentRepository {
	return &SyncMomentRepository{store: store}
}

// Ref returns the document reference of a sync moment
func (r *SyncMomentRepository) Ref(id string) docstore.Ref {
	return docstore.NewRef(SyncMomentsCollection, id)
}

// Create stores a new sync moment
func (r *SyncMomentRepository) Create(ctx context.Context, moment *models.SyncMoment) error {
	if moment.ID == "" {
		moment.ID = r.store.NewID()
	}
	b := docstore.NewBatch()
	b.Create(r.Ref(moment.ID), moment)
	if err := b.Commit(ctx, r.store); err != nil {
		return fmt.Errorf("failed to create sync moment: %w", err)
	}
	return nil
}

// GetByID retrieves a sync moment by ID
func (r *SyncMomentRepository) GetByID(ctx context.Context, id string) (*models.SyncMoment, error) {
	moment, _, err := getDoc[models.SyncMoment](ctx, r.store, r.Ref(id), "sync moment")
	if err != nil {
		return nil, err
	}
	moment.ID = id
	return moment, nil
}

// GetIncomplete retrieves every sync moment still waiting for a photo
func (r *SyncMomentRepository) GetIncomplete(ctx context.Context) ([]*models.SyncMoment, error) {
	snaps, err := r.store.Query(ctx, docstore.Query{
		Collection: SyncMomentsCollection,
		Where:      []docstore.Filter{{Field: SyncMomentFieldComplete, Value: false}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get sync moments: %w", err)
	}
	return decodeAll(snaps, func(m *models.SyncMoment, id string) { m.ID = id })
}

// Delete removes a sync moment
func (r *SyncMomentRepository) Delete(ctx context.Context, id string) error {
	b := docstore.NewBatch()
	b.Delete(r.Ref(id))
	if err := b.Commit(ctx, r.store); err != nil {
		return fmt.Errorf("failed to delete sync moment: %w", err)
	}
	return nil
}
