// Package push sends incoming-call alert notifications to mobile devices.
// The in-process incoming-call notifier covers clients holding a live signal
// subscription; push covers everyone else.
package push

import (
	"context"

	"go.uber.org/zap"

	"carelink-backend/pkg/logger"
)

// Provider defines the interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// Notification priorities
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
)

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"  // Firebase Cloud Messaging
	TokenTypeAPNs TokenType = "apns" // Apple Push Notification Service
)

// MockProvider logs notifications instead of sending them. Used in
// development and as the fallback when no real provider is configured.
type MockProvider struct{}

// Send implements Provider
func (m *MockProvider) Send(_ context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	logger.Info("mock push notification",
		zap.String("title", notification.Title),
		zap.String("body", notification.Body),
		zap.Int("tokens", len(tokens)))
	return &SendResult{SuccessCount: len(tokens)}, nil
}
