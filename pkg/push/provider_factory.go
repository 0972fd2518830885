package push

import (
	"fmt"

	"go.uber.org/zap"

	"carelink-backend/pkg/env"
	"carelink-backend/pkg/logger"
)

// ProviderType represents the type of push notification provider
type ProviderType string

const (
	ProviderTypeMock ProviderType = "mock"
	ProviderTypeFCM  ProviderType = "fcm"
	ProviderTypeAPNs ProviderType = "apns"
)

// NewProvider creates a push notification provider based on the
// PUSH_PROVIDER environment variable.
func NewProvider() (Provider, error) {
	providerType := ProviderType(env.GetString("PUSH_PROVIDER", "mock"))

	switch providerType {
	case ProviderTypeFCM:
		projectID := env.GetStringFromFile("FCM_PROJECT_ID", "")
		if projectID == "" {
			return nil, fmt.Errorf("FCM_PROJECT_ID is required for the fcm provider")
		}
		return NewFCMProvider(&FCMConfig{
			ProjectID:       projectID,
			CredentialsPath: env.GetString("FCM_CREDENTIALS_PATH", ""),
		})
	case ProviderTypeAPNs:
		return NewAPNsProvider(&APNsConfig{
			KeyPath:    env.GetString("APNS_KEY_PATH", ""),
			KeyID:      env.GetStringFromFile("APNS_KEY_ID", ""),
			TeamID:     env.GetStringFromFile("APNS_TEAM_ID", ""),
			BundleID:   env.GetString("APNS_BUNDLE_ID", ""),
			Production: env.GetBool("APNS_PRODUCTION", false),
		})
	case ProviderTypeMock:
		return &MockProvider{}, nil
	default:
		logger.Warn("unknown push provider type, falling back to mock",
			zap.String("provider_type", string(providerType)))
		return &MockProvider{}, nil
	}
}
