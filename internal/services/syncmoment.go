package services

import (
	"context"
	"errors"
	"fmt"

	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

// PartnerNudger asks a partner's device to take a photo now
type PartnerNudger interface {
	NudgePartner(initiatorID, partnerID string, moment *models.SyncMoment) error
}

// SyncMomentService runs time-boxed challenges where both partners send a photo
type SyncMomentService struct {
	store    docstore.Store
	moments  *repository.SyncMomentRepository
	couples  *repository.CoupleRepository
	users    *repository.UserRepository
	nudger   PartnerNudger
	clock    Clock
	settings Settings
}

// NewSyncMomentService creates a new sync moment service
func NewSyncMomentService(
	store docstore.Store,
	moments *repository.SyncMomentRepository,
	couples *repository.CoupleRepository,
	users *repository.UserRepository,
	nudger PartnerNudger,
	clock Clock,
	settings Settings,
) *SyncMomentService {
	return &SyncMomentService{
		store:    store,
		moments:  moments,
		couples:  couples,
		users:    users,
		nudger:   nudger,
		clock:    clock,
		settings: settings,
	}
}

// Start opens a sync moment for the initiator's couple and nudges the partner
func (s *SyncMomentService) Start(ctx context.Context, initiatorID string) (*models.SyncMoment, error) {
	if initiatorID == "" {
		return nil, ErrNotAuthenticated
	}
	user, err := s.users.GetByID(ctx, initiatorID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	if !user.IsConnected() {
		return nil, ErrNotConnected
	}

	now := s.clock.Now().UTC()
	moment := &models.SyncMoment{
		CoupleID:    *user.CoupleID,
		InitiatorID: initiatorID,
		ExpiresAt:   now.Add(s.settings.SyncMomentWindow),
		CreatedAt:   now,
	}
	if err := s.moments.Create(ctx, moment); err != nil {
		return nil, err
	}

	if s.nudger != nil {
		if err := s.nudger.NudgePartner(initiatorID, *user.PartnerID, moment); err != nil {
			log.Warn().Err(err).Str("sync_moment_id", moment.ID).Msg("Failed to nudge partner")
		}
	}
	log.Info().
		Str("sync_moment_id", moment.ID).
		Str("couple_id", moment.CoupleID).
		Time("expires_at", moment.ExpiresAt).
		Msg("Sync moment started")
	return moment, nil
}

// Contribute fills the caller's photo slot of a sync moment
func (s *SyncMomentService) Contribute(ctx context.Context, momentID, userID, photoID string) (*models.SyncMoment, error) {
	ref := s.moments.Ref(momentID)
	var result *models.SyncMoment
	err := docstore.RunTransaction(ctx, s.store, s.settings.txOptions(), func(ctx context.Context, tx *docstore.Tx) error {
		snap, err := tx.Get(ctx, ref)
		if err != nil {
			return err
		}
		if !snap.Exists {
			return ErrNotFound
		}
		var moment models.SyncMoment
		if err := snap.DataTo(&moment); err != nil {
			return err
		}
		moment.ID = momentID

		now := s.clock.Now().UTC()
		if moment.IsExpired(now) {
			return ErrSyncMomentExpired
		}

		coupleSnap, err := tx.Get(ctx, s.couples.Ref(moment.CoupleID))
		if err != nil {
			return err
		}
		couple, err := repository.DecodeCouple(coupleSnap)
		if err != nil {
			return err
		}
		if couple == nil || !couple.HasMember(userID) {
			return ErrNotConnected
		}

		fields := map[string]any{}
		if userID == couple.User1ID {
			moment.User1PhotoID = &photoID
			moment.User1CompletedAt = &now
			fields["user1PhotoID"] = photoID
			fields["user1CompletedAt"] = now
		} else {
			moment.User2PhotoID = &photoID
			moment.User2CompletedAt = &now
			fields["user2PhotoID"] = photoID
			fields["user2CompletedAt"] = now
		}
		moment.Complete = moment.IsComplete()
		fields[repository.SyncMomentFieldComplete] = moment.Complete
		tx.Update(ref, fields)
		result = &moment
		return nil
	})
	if err != nil {
		if errors.Is(err, docstore.ErrConflict) {
			return nil, wrap(ErrTransactionConflict, err)
		}
		return nil, err
	}
	return result, nil
}

// SweepExpired deletes incomplete sync moments that expired more than the
// retention period ago; it returns how many were removed
func (s *SyncMomentService) SweepExpired(ctx context.Context) (int, error) {
	open, err := s.moments.GetIncomplete(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.clock.Now().Add(-s.settings.SyncMomentRetention)
	removed := 0
	for _, m := range open {
		if !m.IsExpired(cutoff) {
			continue
		}
		if err := s.moments.Delete(ctx, m.ID); err != nil {
			return removed, fmt.Errorf("failed to sweep sync moment %s: %w", m.ID, err)
		}
		removed++
	}
	return removed, nil
}
