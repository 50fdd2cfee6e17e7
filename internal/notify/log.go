package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier only records the notification it would have sent
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a notifier writing to logger
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

// NotifyNewPhoto logs the notification
func (n *LogNotifier) NotifyNewPhoto(ctx context.Context, p NewPhoto) error {
	n.logger.Info().
		Str("photo_id", p.PhotoID).
		Str("couple_id", p.CoupleID).
		Str("sender", p.SenderName).
		Bool("has_token", p.RecipientToken != "").
		Msg(p.Title())
	return nil
}

// Close is a no-op
func (n *LogNotifier) Close() error {
	return nil
}
