package models

import "time"

// Couple is the shared aggregate of two linked users
type Couple struct {
	ID                   string     `json:"id"`
	User1ID              string     `json:"user1ID"`
	User2ID              string     `json:"user2ID"`
	InviteCode           *string    `json:"inviteCode,omitempty"`
	StreakCount          int        `json:"streakCount"`
	LongestStreak        int        `json:"longestStreak"`
	LastPhotoDate        *time.Time `json:"lastPhotoDate,omitempty"`
	LastStreakUpdate     *time.Time `json:"lastStreakUpdate,omitempty"`
	TotalPhotosExchanged int        `json:"totalPhotosExchanged"`
	AnniversaryDate      *time.Time `json:"anniversaryDate,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
}

// PartnerID returns the other member of the couple
func (c *Couple) PartnerID(userID string) string {
	if userID == c.User1ID {
		return c.User2ID
	}
	return c.User1ID
}

// HasMember reports whether userID belongs to the couple
func (c *Couple) HasMember(userID string) bool {
	return userID == c.User1ID || userID == c.User2ID
}

// IsStreakActive reports whether the last photo was sent today or yesterday in loc
func (c *Couple) IsStreakActive(now time.Time, loc *time.Location) bool {
	if c.LastPhotoDate == nil {
		return false
	}
	last := *c.LastPhotoDate
	return SameDay(last, now, loc) || SameDay(last, now.AddDate(0, 0, -1), loc)
}

// StreakExpiresIn returns the time left before the streak lapses: the end of
// the day after the last streak update. Zero means expired or never started.
func (c *Couple) StreakExpiresIn(now time.Time, loc *time.Location) time.Duration {
	if c.LastStreakUpdate == nil {
		return 0
	}
	last := c.LastStreakUpdate.In(loc)
	endOfDay := time.Date(last.Year(), last.Month(), last.Day(), 23, 59, 59, 0, loc)
	remaining := endOfDay.AddDate(0, 0, 1).Sub(now)
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// DaysConnected returns the number of whole days since the couple was created
func (c *Couple) DaysConnected(now time.Time) int {
	if now.Before(c.CreatedAt) {
		return 0
	}
	return int(now.Sub(c.CreatedAt).Hours() / 24)
}

// SameDay reports whether a and b fall on the same calendar day in loc
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// StreakMilestone marks a celebrated streak length
type StreakMilestone int

const (
	MilestoneWeek    StreakMilestone = 7
	MilestoneMonth   StreakMilestone = 30
	MilestoneQuarter StreakMilestone = 100
	MilestoneYear    StreakMilestone = 365
)

var milestones = []StreakMilestone{MilestoneWeek, MilestoneMonth, MilestoneQuarter, MilestoneYear}

// MilestoneFor returns the milestone reached at exactly count days, if any
func MilestoneFor(count int) (StreakMilestone, bool) {
	for _, m := range milestones {
		if int(m) == count {
			return m, true
		}
	}
	return 0, false
}

// Title returns a short label for the milestone
func (m StreakMilestone) Title() string {
	switch m {
	case MilestoneWeek:
		return "1 Week!"
	case MilestoneMonth:
		return "1 Month!"
	case MilestoneQuarter:
		return "100 Days!"
	case MilestoneYear:
		return "1 Year!"
	}
	return ""
}
