package push

import (
	"context"
	"fmt"

	"github.com/sideshow/apns2"
	apnspayload "github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"go.uber.org/zap"

	"carelink-backend/pkg/logger"
)

// APNsProvider implements Provider for the Apple Push Notification Service
type APNsProvider struct {
	client   *apns2.Client
	bundleID string
}

// APNsConfig contains configuration for the APNs provider.
// Token-based (.p8) authentication only.
type APNsConfig struct {
	KeyPath    string // Path to .p8 private key file
	KeyID      string // 10-character Key ID from the Apple Developer Portal
	TeamID     string // 10-character Team ID from the Apple Developer Portal
	BundleID   string // Bundle ID of the app
	Production bool   // Use the production APNs endpoint
}

// NewAPNsProvider creates a new APNs provider
func NewAPNsProvider(config *APNsConfig) (*APNsProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("APNs config is required")
	}
	if config.BundleID == "" {
		return nil, fmt.Errorf("BundleID is required")
	}
	if config.KeyPath == "" || config.KeyID == "" || config.TeamID == "" {
		return nil, fmt.Errorf("KeyPath, KeyID and TeamID are required")
	}

	authKey, err := token.AuthKeyFromFile(config.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   config.KeyID,
		TeamID:  config.TeamID,
	})
	if config.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	logger.Info("APNs provider initialized",
		zap.String("bundle_id", config.BundleID),
		zap.Bool("production", config.Production))

	return &APNsProvider{client: client, bundleID: config.BundleID}, nil
}

// Send implements Provider. APNs has no multicast API; tokens are sent one
// at a time.
func (a *APNsProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	result := &SendResult{}

	p := apnspayload.NewPayload().
		AlertTitle(notification.Title).
		AlertBody(notification.Body)
	if notification.Sound != "" {
		p = p.Sound(notification.Sound)
	}
	if notification.Category != "" {
		p = p.Category(notification.Category)
	}
	for k, v := range notification.Data {
		p = p.Custom(k, v)
	}

	for _, t := range tokens {
		notif := &apns2.Notification{
			DeviceToken: t,
			Topic:       a.bundleID,
			Payload:     p,
			Priority:    apns2.PriorityHigh,
		}

		resp, err := a.client.PushWithContext(ctx, notif)
		if err != nil {
			result.FailureCount++
			continue
		}
		if resp.Sent() {
			result.SuccessCount++
			continue
		}
		result.FailureCount++
		if resp.Reason == apns2.ReasonUnregistered || resp.Reason == apns2.ReasonBadDeviceToken {
			result.InvalidTokens = append(result.InvalidTokens, t)
		}
	}

	return result, nil
}
