// Package notify delivers the "new photo" trigger to a partner's device.
package notify

import (
	"context"
	"fmt"
)

// NewPhoto describes a photo the recipient has not seen yet
type NewPhoto struct {
	RecipientToken string `json:"recipientToken"`
	SenderName     string `json:"senderName"`
	PhotoID        string `json:"photoID"`
	CoupleID       string `json:"coupleID"`
}

// Title is the notification headline
func (n NewPhoto) Title() string {
	return fmt.Sprintf("New photo from %s", n.SenderName)
}

// Notifier triggers delivery of a new photo notification
type Notifier interface {
	NotifyNewPhoto(ctx context.Context, n NewPhoto) error
	Close() error
}
