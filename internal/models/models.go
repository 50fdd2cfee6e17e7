package models

import "time"

// User represents an account that can be linked to exactly one partner
type User struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phoneNumber"`
	DisplayName string    `json:"displayName"`
	AvatarURL   *string   `json:"avatarURL,omitempty"`
	PartnerID   *string   `json:"partnerID,omitempty"`
	CoupleID    *string   `json:"coupleID,omitempty"`
	FCMToken    *string   `json:"fcmToken,omitempty"`
	CurrentMood *Mood     `json:"currentMood,omitempty"`
	LastActive  time.Time `json:"lastActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IsConnected reports whether the user is linked to a partner
func (u *User) IsConnected() bool {
	return u.PartnerID != nil && u.CoupleID != nil
}

// Mood is the status a user shares with their partner
type Mood string

const (
	MoodGreat   Mood = "great"
	MoodLoved   Mood = "loved"
	MoodTired   Mood = "tired"
	MoodSad     Mood = "sad"
	MoodMissing Mood = "missing"
	MoodExcited Mood = "excited"
)

// Valid reports whether m is one of the known moods
func (m Mood) Valid() bool {
	switch m {
	case MoodGreat, MoodLoved, MoodTired, MoodSad, MoodMissing, MoodExcited:
		return true
	}
	return false
}

// Photo represents an exchanged photo and its metadata
type Photo struct {
	ID               string         `json:"id"`
	SenderID         string         `json:"senderID"`
	CoupleID         string         `json:"coupleID"`
	ImageURL         string         `json:"imageURL"`
	ThumbnailURL     *string        `json:"thumbnailURL,omitempty"`
	Caption          *string        `json:"caption,omitempty"`
	Reaction         *PhotoReaction `json:"reaction,omitempty"`
	ViewedAt         *time.Time     `json:"viewedAt,omitempty"`
	IsSyncMoment     bool           `json:"isSyncMoment"`
	SyncMomentPairID *string        `json:"syncMomentPairID,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// IsViewed reports whether the recipient has opened the photo
func (p *Photo) IsViewed() bool {
	return p.ViewedAt != nil
}

// IsSentBy reports whether userID sent the photo
func (p *Photo) IsSentBy(userID string) bool {
	return p.SenderID == userID
}

// PhotoReaction is a reaction a partner can leave on a photo
type PhotoReaction string

const (
	ReactionHeart PhotoReaction = "heart"
	ReactionFire  PhotoReaction = "fire"
	ReactionLaugh PhotoReaction = "laugh"
	ReactionLove  PhotoReaction = "love"
	ReactionKiss  PhotoReaction = "kiss"
	ReactionHug   PhotoReaction = "hug"
)

// Valid reports whether r is one of the known reactions
func (r PhotoReaction) Valid() bool {
	switch r {
	case ReactionHeart, ReactionFire, ReactionLaugh, ReactionLove, ReactionKiss, ReactionHug:
		return true
	}
	return false
}

// PhotoFilter selects a subset of the feed
type PhotoFilter string

const (
	FilterAll       PhotoFilter = "all"
	FilterSent      PhotoFilter = "sent"
	FilterReceived  PhotoFilter = "received"
	FilterFavorites PhotoFilter = "favorites"
)

// ParsePhotoFilter converts a query value to a filter, defaulting to all
func ParsePhotoFilter(s string) (PhotoFilter, bool) {
	switch PhotoFilter(s) {
	case "", FilterAll:
		return FilterAll, true
	case FilterSent, FilterReceived, FilterFavorites:
		return PhotoFilter(s), true
	}
	return FilterAll, false
}
