package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// APNsConfig configures token based APNs delivery
type APNsConfig struct {
	KeyPath    string
	KeyID      string
	TeamID     string
	Topic      string
	Production bool
}

// APNsNotifier pushes notifications through Apple Push Notification service
type APNsNotifier struct {
	client *apns2.Client
	topic  string
}

// NewAPNsNotifier loads the signing key and creates a client
func NewAPNsNotifier(cfg APNsConfig) (*APNsNotifier, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}
	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return &APNsNotifier{client: client, topic: cfg.Topic}, nil
}

// NotifyNewPhoto pushes an alert to the recipient's device
func (n *APNsNotifier) NotifyNewPhoto(ctx context.Context, p NewPhoto) error {
	if p.RecipientToken == "" {
		return errors.New("recipient has no device token")
	}
	notification := &apns2.Notification{
		DeviceToken: p.RecipientToken,
		Topic:       n.topic,
		Payload: payload.NewPayload().
			AlertTitle(p.Title()).
			Sound("default").
			Custom("photoID", p.PhotoID).
			Custom("coupleID", p.CoupleID),
	}
	res, err := n.client.PushWithContext(ctx, notification)
	if err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("apns rejected notification: %d %s", res.StatusCode, res.Reason)
	}
	return nil
}

// Close is a no-op; the HTTP/2 client has no persistent handle to release
func (n *APNsNotifier) Close() error {
	return nil
}
