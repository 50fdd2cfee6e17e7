package repository

import (
	"context"
	"fmt"

	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/models"
)

// Invite document fields used in queries and updates
const (
	InviteFieldCreatorID = "creatorID"
	InviteFieldUsedBy    = "usedBy"
	InviteFieldUsedAt    = "usedAt"
)

// InviteRepository handles document operations for invite codes.
// Invites are keyed by their code.
type InviteRepository struct {
	store docstore.Store
}

// NewInviteRepository creates a new invite repository
func NewInviteRepository(store docstore.Store) *InviteRepository {
	return &InviteRepository{store: store}
}

// Ref returns the document reference of an invite code
func (r *InviteRepository) Ref(code string) docstore.Ref {
	return docstore.NewRef(InvitesCollection, code)
}

// GetByCode retrieves an invite by code
func (r *InviteRepository) GetByCode(ctx context.Context, code string) (*models.InviteCode, error) {
	invite, _, err := getDoc[models.InviteCode](ctx, r.store, r.Ref(code), "invite")
	if err != nil {
		return nil, err
	}
	invite.Code = code
	return invite, nil
}

// GetUnusedByCreator retrieves every invite of a creator that nobody redeemed
func (r *InviteRepository) GetUnusedByCreator(ctx context.Context, creatorID string) ([]*models.InviteCode, error) {
	snaps, err := r.store.Query(ctx, docstore.Query{
		Collection: InvitesCollection,
		Where: []docstore.Filter{
			{Field: InviteFieldCreatorID, Value: creatorID},
			{Field: InviteFieldUsedBy, Value: nil},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get invites: %w", err)
	}
	return decodeAll(snaps, func(inv *models.InviteCode, id string) { inv.Code = id })
}

// Watch subscribes to an invite document
func (r *InviteRepository) Watch(ctx context.Context, code string) (*docstore.DocSubscription, error) {
	return r.store.Watch(ctx, r.Ref(code))
}

// DecodeInvite converts a snapshot into an invite; a missing document yields nil
func DecodeInvite(snap *docstore.Snapshot) (*models.InviteCode, error) {
	if !snap.Exists {
		return nil, nil
	}
	var invite models.InviteCode
	if err := snap.DataTo(&invite); err != nil {
		return nil, err
	}
	invite.Code = snap.Ref.ID
	return &invite, nil
}
