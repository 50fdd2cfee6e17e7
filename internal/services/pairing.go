package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

// PairingService generates, validates and consumes invite codes
type PairingService struct {
	store    docstore.Store
	invites  *repository.InviteRepository
	users    *repository.UserRepository
	couples  *CoupleService
	clock    Clock
	settings Settings
	newCode  func() (string, error)
}

// NewPairingService creates a new pairing service
func NewPairingService(
	store docstore.Store,
	invites *repository.InviteRepository,
	users *repository.UserRepository,
	couples *CoupleService,
	clock Clock,
	settings Settings,
) *PairingService {
	return &PairingService{
		store:    store,
		invites:  invites,
		users:    users,
		couples:  couples,
		clock:    clock,
		settings: settings,
		newCode:  generateInviteCode,
	}
}

// generateInviteCode draws LOVE-XXXX from the unambiguous alphabet
func generateInviteCode() (string, error) {
	code := make([]byte, models.InviteCodeRandomLength)
	limit := big.NewInt(int64(len(models.InviteCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to read random: %w", err)
		}
		code[i] = models.InviteCodeAlphabet[n.Int64()]
	}
	return models.InviteCodePrefix + string(code), nil
}

// GenerateInviteCode supersedes the creator's unused invites with a fresh
// code. The old invites are deleted in the same write that creates the new
// one; a code collision retries with another code.
func (s *PairingService) GenerateInviteCode(ctx context.Context, creatorID string) (*models.InviteCode, error) {
	if creatorID == "" {
		return nil, ErrNotAuthenticated
	}

	unused, err := s.invites.GetUnusedByCreator(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	attempts := s.settings.CodeAttempts
	if attempts <= 0 {
		attempts = 10
	}
	for i := 0; i < attempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return nil, wrap(ErrUnknown, err)
		}

		now := s.clock.Now().UTC()
		invite := &models.InviteCode{
			Code:      code,
			CreatorID: creatorID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.settings.InviteTTL),
		}

		b := docstore.NewBatch()
		for _, old := range unused {
			if old.Code != code {
				b.Delete(s.invites.Ref(old.Code))
			}
		}
		b.Create(s.invites.Ref(code), invite)
		err = b.Commit(ctx, s.store)
		if errors.Is(err, docstore.ErrAlreadyExists) {
			log.Debug().Str("code", code).Msg("Invite code collision, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create invite: %w", err)
		}

		metrics.InvitesGeneratedTotal.Inc()
		log.Info().
			Str("creator_id", creatorID).
			Str("code", code).
			Int("superseded", len(unused)).
			Time("expires_at", invite.ExpiresAt).
			Msg("Invite code generated")
		return invite, nil
	}
	return nil, wrap(ErrUnknown, fmt.Errorf("failed to generate unique invite code after %d attempts", attempts))
}

// JoinWithCode redeems an invite for joinerID. Validation, couple creation,
// both user links and marking the invite used commit as one transaction.
func (s *PairingService) JoinWithCode(ctx context.Context, rawCode, joinerID string) (couple *models.Couple, err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = string(Kind(err))
		}
		metrics.PairJoinsTotal.WithLabelValues(result).Inc()
	}()

	if joinerID == "" {
		return nil, ErrNotAuthenticated
	}
	code := models.NormalizeInviteCode(rawCode)
	if !models.IsWellFormedInviteCode(code) {
		return nil, ErrInvalidCode
	}
	inviteRef := s.invites.Ref(code)

	err = docstore.RunTransaction(ctx, s.store, s.settings.txOptions(), func(ctx context.Context, tx *docstore.Tx) error {
		snap, err := tx.Get(ctx, inviteRef)
		if err != nil {
			return err
		}
		invite, err := repository.DecodeInvite(snap)
		if err != nil {
			return err
		}
		if invite == nil {
			return ErrInvalidCode
		}
		if invite.CreatorID == joinerID {
			return ErrCannotUseSelf
		}
		now := s.clock.Now().UTC()
		if invite.IsExpired(now) {
			return ErrCodeExpired
		}
		if invite.IsUsed() {
			return ErrCodeAlreadyUsed
		}

		creator, err := s.readUser(ctx, tx, invite.CreatorID)
		if err != nil {
			return err
		}
		if creator == nil {
			return ErrInvalidCode
		}
		joiner, err := s.readUser(ctx, tx, joinerID)
		if err != nil {
			return err
		}
		if joiner == nil {
			return ErrNotAuthenticated
		}
		if creator.IsConnected() || joiner.IsConnected() {
			return ErrAlreadyConnected
		}

		couple = s.couples.newCouple(invite.CreatorID, joinerID, &code)
		s.couples.writeLink(tx, couple)
		tx.Update(inviteRef, map[string]any{
			repository.InviteFieldUsedBy: joinerID,
			repository.InviteFieldUsedAt: now,
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, docstore.ErrConflict) {
			return nil, wrap(ErrTransactionConflict, err)
		}
		return nil, err
	}

	log.Info().
		Str("couple_id", couple.ID).
		Str("creator_id", couple.User1ID).
		Str("joiner_id", joinerID).
		Str("code", code).
		Msg("Partners connected")
	return couple, nil
}

func (s *PairingService) readUser(ctx context.Context, tx *docstore.Tx, userID string) (*models.User, error) {
	snap, err := tx.Get(ctx, s.users.Ref(userID))
	if err != nil {
		return nil, err
	}
	return repository.DecodeUser(snap)
}

// DisconnectPartner deletes the couple and clears both users' links in one
// transaction. The caller must currently be linked to partnerID through
// coupleID.
func (s *PairingService) DisconnectPartner(ctx context.Context, coupleID, userID, partnerID string) error {
	if userID == "" {
		return ErrNotAuthenticated
	}
	if coupleID == "" || partnerID == "" {
		return ErrNotConnected
	}

	err := docstore.RunTransaction(ctx, s.store, s.settings.txOptions(), func(ctx context.Context, tx *docstore.Tx) error {
		user, err := s.readUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrNotAuthenticated
		}
		if user.CoupleID == nil || *user.CoupleID != coupleID || user.PartnerID == nil || *user.PartnerID != partnerID {
			return ErrNotConnected
		}
		partner, err := s.readUser(ctx, tx, partnerID)
		if err != nil {
			return err
		}

		// the partner may already have been relinked or removed
		if partner != nil && partner.CoupleID != nil && *partner.CoupleID == coupleID {
			s.couples.writeUnlink(tx, coupleID, userID, partnerID)
		} else {
			s.couples.writeUnlink(tx, coupleID, userID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, docstore.ErrConflict) {
			return wrap(ErrTransactionConflict, err)
		}
		return err
	}

	log.Info().
		Str("couple_id", coupleID).
		Str("user_id", userID).
		Str("partner_id", partnerID).
		Msg("Partners disconnected")
	return nil
}

// Disconnect unlinks userID from whoever they are currently linked to
func (s *PairingService) Disconnect(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotAuthenticated
		}
		return err
	}
	if !user.IsConnected() {
		return ErrNotConnected
	}
	return s.DisconnectPartner(ctx, *user.CoupleID, userID, *user.PartnerID)
}
