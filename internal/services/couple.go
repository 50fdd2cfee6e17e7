package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"
)

// CoupleService maintains the couple aggregate and its streak counters
type CoupleService struct {
	store    docstore.Store
	couples  *repository.CoupleRepository
	users    *repository.UserRepository
	clock    Clock
	settings Settings
}

// NewCoupleService creates a new couple service
func NewCoupleService(
	store docstore.Store,
	couples *repository.CoupleRepository,
	users *repository.UserRepository,
	clock Clock,
	settings Settings,
) *CoupleService {
	return &CoupleService{
		store:    store,
		couples:  couples,
		users:    users,
		clock:    clock,
		settings: settings,
	}
}

func (s *CoupleService) newCouple(user1ID, user2ID string, inviteCode *string) *models.Couple {
	return &models.Couple{
		ID:         s.couples.NewID(),
		User1ID:    user1ID,
		User2ID:    user2ID,
		InviteCode: inviteCode,
		CreatedAt:  s.clock.Now().UTC(),
	}
}

// writeLink buffers the couple creation and both user links
func (s *CoupleService) writeLink(w docstore.Writer, couple *models.Couple) {
	w.Create(s.couples.Ref(couple.ID), couple)
	w.Update(s.users.Ref(couple.User1ID), repository.LinkFields(couple.User2ID, couple.ID))
	w.Update(s.users.Ref(couple.User2ID), repository.LinkFields(couple.User1ID, couple.ID))
}

// writeUnlink buffers the couple deletion and the unlink of each user
func (s *CoupleService) writeUnlink(w docstore.Writer, coupleID string, userIDs ...string) {
	w.Delete(s.couples.Ref(coupleID))
	for _, id := range userIDs {
		w.Update(s.users.Ref(id), repository.UnlinkFields())
	}
}

// CreateCouple creates the couple and links both users in one atomic write
func (s *CoupleService) CreateCouple(ctx context.Context, user1ID, user2ID string) (*models.Couple, error) {
	if user1ID == "" || user2ID == "" {
		return nil, ErrNotAuthenticated
	}
	if user1ID == user2ID {
		return nil, ErrCannotUseSelf
	}

	couple := s.newCouple(user1ID, user2ID, nil)
	b := docstore.NewBatch()
	s.writeLink(b, couple)
	if err := b.Commit(ctx, s.store); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, wrap(ErrNotFound, err)
		}
		return nil, fmt.Errorf("failed to create couple: %w", err)
	}
	return couple, nil
}

// GetCouple retrieves a couple by ID
func (s *CoupleService) GetCouple(ctx context.Context, coupleID string) (*models.Couple, error) {
	couple, err := s.couples.GetByID(ctx, coupleID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, wrap(ErrNotFound, err)
		}
		return nil, err
	}
	return couple, nil
}

// StreakUpdate is the outcome of recording a new photo on the couple
type StreakUpdate struct {
	Couple      *models.Couple
	Incremented bool
	Milestone   *models.StreakMilestone
}

// nextStreak counts one more day whenever the last update fell on another
// calendar day, however many days ago that was
func nextStreak(c *models.Couple, now time.Time, loc *time.Location) int {
	if c.LastStreakUpdate == nil {
		return 1
	}
	if !models.SameDay(*c.LastStreakUpdate, now, loc) {
		return c.StreakCount + 1
	}
	return c.StreakCount
}

// UpdateStreakOnNewPhoto records one exchanged photo and advances the streak
// at most once per calendar day. Concurrent callers are serialized by
// optimistic retry.
func (s *CoupleService) UpdateStreakOnNewPhoto(ctx context.Context, coupleID string) (*StreakUpdate, error) {
	if coupleID == "" {
		return nil, ErrNotConnected
	}
	ref := s.couples.Ref(coupleID)
	loc := s.settings.location()

	var result *StreakUpdate
	err := docstore.RunTransaction(ctx, s.store, s.settings.txOptions(), func(ctx context.Context, tx *docstore.Tx) error {
		snap, err := tx.Get(ctx, ref)
		if err != nil {
			return err
		}
		couple, err := repository.DecodeCouple(snap)
		if err != nil {
			return err
		}
		if couple == nil {
			return wrap(ErrNotFound, fmt.Errorf("couple %s", coupleID))
		}

		now := s.clock.Now().UTC()
		streak := nextStreak(couple, now, loc)
		incremented := streak != couple.StreakCount
		longest := max(couple.LongestStreak, streak)

		tx.Update(ref, map[string]any{
			repository.CoupleFieldStreakCount:      streak,
			repository.CoupleFieldLongestStreak:    longest,
			repository.CoupleFieldTotalPhotos:      couple.TotalPhotosExchanged + 1,
			repository.CoupleFieldLastPhotoDate:    now,
			repository.CoupleFieldLastStreakUpdate: now,
		})

		couple.StreakCount = streak
		couple.LongestStreak = longest
		couple.TotalPhotosExchanged++
		couple.LastPhotoDate = &now
		couple.LastStreakUpdate = &now
		result = &StreakUpdate{Couple: couple, Incremented: incremented}
		if incremented {
			if m, ok := models.MilestoneFor(streak); ok {
				result.Milestone = &m
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, docstore.ErrConflict) {
			return nil, wrap(ErrTransactionConflict, err)
		}
		return nil, fmt.Errorf("failed to update streak: %w", err)
	}
	return result, nil
}

// CoupleStatus is a couple with its derived streak information
type CoupleStatus struct {
	Couple          *models.Couple `json:"couple"`
	PartnerID       string         `json:"partnerID"`
	StreakActive    bool           `json:"streakActive"`
	StreakExpiresIn int64          `json:"streakExpiresInSeconds"`
	DaysConnected   int            `json:"daysConnected"`
	Milestone       string         `json:"milestone,omitempty"`
}

// Status derives the streak view of a couple for userID
func (s *CoupleService) Status(couple *models.Couple, userID string) *CoupleStatus {
	now := s.clock.Now()
	loc := s.settings.location()
	status := &CoupleStatus{
		Couple:          couple,
		PartnerID:       couple.PartnerID(userID),
		StreakActive:    couple.IsStreakActive(now, loc),
		StreakExpiresIn: int64(couple.StreakExpiresIn(now, loc).Seconds()),
		DaysConnected:   couple.DaysConnected(now),
	}
	if m, ok := models.MilestoneFor(couple.StreakCount); ok {
		status.Milestone = m.Title()
	}
	return status
}
