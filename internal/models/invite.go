package models

import (
	"strings"
	"time"
)

const (
	// InviteCodePrefix is prepended to every generated code
	InviteCodePrefix = "LOVE-"
	// InviteCodeAlphabet excludes I, O, 0 and 1
	InviteCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// InviteCodeRandomLength is the number of random symbols after the prefix
	InviteCodeRandomLength = 4
)

// InviteCode is a single-use token letting a second user link to the creator
type InviteCode struct {
	Code      string     `json:"code"`
	CreatorID string     `json:"creatorID"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	UsedBy    *string    `json:"usedBy,omitempty"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
}

// IsExpired reports whether now is past the expiry
func (i *InviteCode) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// IsUsed reports whether the invite has been consumed
func (i *InviteCode) IsUsed() bool {
	return i.UsedBy != nil
}

// IsValid reports whether the invite can still be joined
func (i *InviteCode) IsValid(now time.Time) bool {
	return !i.IsExpired(now) && !i.IsUsed()
}

// NormalizeInviteCode trims and uppercases user input
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsWellFormedInviteCode reports whether code has the LOVE-XXXX shape
func IsWellFormedInviteCode(code string) bool {
	if len(code) != len(InviteCodePrefix)+InviteCodeRandomLength {
		return false
	}
	if !strings.HasPrefix(code, InviteCodePrefix) {
		return false
	}
	for _, c := range code[len(InviteCodePrefix):] {
		if !strings.ContainsRune(InviteCodeAlphabet, c) {
			return false
		}
	}
	return true
}

// SyncMoment is a time-boxed challenge for both partners to send a photo
type SyncMoment struct {
	ID               string     `json:"id"`
	CoupleID         string     `json:"coupleID"`
	InitiatorID      string     `json:"initiatorID"`
	User1PhotoID     *string    `json:"user1PhotoID,omitempty"`
	User2PhotoID     *string    `json:"user2PhotoID,omitempty"`
	User1CompletedAt *time.Time `json:"user1CompletedAt,omitempty"`
	User2CompletedAt *time.Time `json:"user2CompletedAt,omitempty"`
	Complete         bool       `json:"complete"`
	ExpiresAt        time.Time  `json:"expiresAt"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// IsComplete reports whether both photo slots are filled
func (s *SyncMoment) IsComplete() bool {
	return s.User1PhotoID != nil && s.User2PhotoID != nil
}

// IsExpired reports whether now is past the expiry
func (s *SyncMoment) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
