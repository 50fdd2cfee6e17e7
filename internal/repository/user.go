package repository

import (
	"context"
	"fmt"

	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/models"
)

// User document fields touched by partial updates
const (
	UserFieldDisplayName = "displayName"
	UserFieldAvatarURL   = "avatarURL"
	UserFieldPartnerID   = "partnerID"
	UserFieldCoupleID    = "coupleID"
	UserFieldFCMToken    = "fcmToken"
	UserFieldMood        = "currentMood"
	UserFieldLastActive  = "lastActive"
)

// UserRepository handles document operations for users
type UserRepository struct {
	store docstore.Store
}

// NewUserRepository creates a new user repository
func NewUserRepository(store docstore.Store) *UserRepository {
	return &UserRepository{store: store}
}

// Ref returns the document reference of a user
func (r *UserRepository) Ref(id string) docstore.Ref {
	return docstore.NewRef(UsersCollection, id)
}

// Create creates a new user, assigning an id when empty
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = r.store.NewID()
	}
	b := docstore.NewBatch()
	b.Create(r.Ref(user.ID), user)
	if err := b.Commit(ctx, r.store); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, _, err := getDoc[models.User](ctx, r.store, r.Ref(id), "user")
	if err != nil {
		return nil, err
	}
	user.ID = id
	return user, nil
}

// Update merges fields into a user; nil values clear the field
func (r *UserRepository) Update(ctx context.Context, id string, fields map[string]any) error {
	b := docstore.NewBatch()
	b.Update(r.Ref(id), fields)
	if err := b.Commit(ctx, r.store); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// Watch subscribes to a user document
func (r *UserRepository) Watch(ctx context.Context, id string) (*docstore.DocSubscription, error) {
	return r.store.Watch(ctx, r.Ref(id))
}

// DecodeUser converts a snapshot into a user; a missing document yields nil
func DecodeUser(snap *docstore.Snapshot) (*models.User, error) {
	if !snap.Exists {
		return nil, nil
	}
	var user models.User
	if err := snap.DataTo(&user); err != nil {
		return nil, err
	}
	user.ID = snap.Ref.ID
	return &user, nil
}

// LinkFields are the updates that attach a user to a partner and couple
func LinkFields(partnerID, coupleID string) map[string]any {
	return map[string]any{
		UserFieldPartnerID: partnerID,
		UserFieldCoupleID:  coupleID,
	}
}

// UnlinkFields are the updates that clear a user's partner and couple
func UnlinkFields() map[string]any {
	return map[string]any{
		UserFieldPartnerID: nil,
		UserFieldCoupleID:  nil,
	}
}
