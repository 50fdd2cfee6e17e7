package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"couple-sync-backend/internal/docstore"
)

// LocksCollection holds job leases shared by every instance
const LocksCollection = "schedulerLocks"

type lease struct {
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Locker hands out time-bounded job leases stored in the document store
type Locker struct {
	store docstore.Store
	now   func() time.Time
}

// NewLocker creates a locker over store
func NewLocker(store docstore.Store) *Locker {
	return &Locker{store: store, now: time.Now}
}

// TryAcquire takes the lease on job for holder unless another holder has an
// unexpired one
func (l *Locker) TryAcquire(ctx context.Context, job, holder string, ttl time.Duration) (bool, error) {
	ref := docstore.NewRef(LocksCollection, job)
	acquired := false
	err := docstore.RunTransaction(ctx, l.store, docstore.TxOptions{MaxAttempts: 3}, func(ctx context.Context, tx *docstore.Tx) error {
		acquired = false
		snap, err := tx.Get(ctx, ref)
		if err != nil {
			return err
		}
		now := l.now()
		if snap.Exists {
			var current lease
			if err := snap.DataTo(&current); err != nil {
				return err
			}
			if current.Holder != holder && now.Before(current.ExpiresAt) {
				return nil
			}
		}
		tx.Set(ref, lease{Holder: holder, ExpiresAt: now.Add(ttl)})
		acquired = true
		return nil
	})
	if errors.Is(err, docstore.ErrConflict) {
		// someone else won the race for the lease
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", job, err)
	}
	return acquired, nil
}

// Release drops the lease if holder still owns it
func (l *Locker) Release(ctx context.Context, job, holder string) error {
	ref := docstore.NewRef(LocksCollection, job)
	err := docstore.RunTransaction(ctx, l.store, docstore.TxOptions{MaxAttempts: 3}, func(ctx context.Context, tx *docstore.Tx) error {
		snap, err := tx.Get(ctx, ref)
		if err != nil || !snap.Exists {
			return err
		}
		var current lease
		if err := snap.DataTo(&current); err != nil {
			return err
		}
		if current.Holder == holder {
			tx.Delete(ref)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", job, err)
	}
	return nil
}
