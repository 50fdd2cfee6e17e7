package repository

import (
	"context"
	"fmt"

	"couple-sync-backend/internal/docstore"
)

// Collection names
const (
	UsersCollection       = "users"
	CouplesCollection     = "couples"
	InvitesCollection     = "invites"
	PhotosCollection      = "photos"
	SyncMomentsCollection = "syncMoments"
)

// getDoc loads and decodes a document; a missing document wraps docstore.ErrNotFound
func getDoc[T any](ctx context.Context, store docstore.Store, ref docstore.Ref, kind string) (*T, *docstore.Snapshot, error) {
	snap, err := store.Get(ctx, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get %s: %w", kind, err)
	}
	if !snap.Exists {
		return nil, snap, fmt.Errorf("%s not found: %w", kind, docstore.ErrNotFound)
	}
	var v T
	if err := snap.DataTo(&v); err != nil {
		return nil, snap, err
	}
	return &v, snap, nil
}

// decodeAll decodes query results and sets each id from its ref
func decodeAll[T any](snaps []*docstore.Snapshot, setID func(*T, string)) ([]*T, error) {
	out := make([]*T, 0, len(snaps))
	for _, snap := range snaps {
		var v T
		if err := snap.DataTo(&v); err != nil {
			return nil, err
		}
		setID(&v, snap.Ref.ID)
		out = append(out, &v)
	}
	return out, nil
}
