package services

import (
	"time"

	"couple-sync-backend/internal/docstore"
	"couple-sync-backend/internal/metrics"
)

// Settings tunes service behavior
type Settings struct {
	InviteTTL           time.Duration
	CodeAttempts        int
	StreakLocation      *time.Location
	Tx                  docstore.TxOptions
	FeedLimit           int
	ThumbnailWidth      int
	SyncMomentWindow    time.Duration
	SyncMomentRetention time.Duration
	JWTSecret           string
	JWTExpiryDays       int
}

// DefaultSettings returns the production defaults
func DefaultSettings() Settings {
	return Settings{
		InviteTTL:           24 * time.Hour,
		CodeAttempts:        10,
		StreakLocation:      time.Local,
		Tx:                  docstore.TxOptions{MaxAttempts: 5, BaseBackoff: 10 * time.Millisecond},
		FeedLimit:           100,
		ThumbnailWidth:      300,
		SyncMomentWindow:    5 * time.Minute,
		SyncMomentRetention: 24 * time.Hour,
		JWTExpiryDays:       365,
	}
}

func (s Settings) txOptions() docstore.TxOptions {
	opts := s.Tx
	opts.OnRetry = func(int) { metrics.TxRetriesTotal.Inc() }
	return opts
}

func (s Settings) location() *time.Location {
	if s.StreakLocation == nil {
		return time.Local
	}
	return s.StreakLocation
}
