package alert

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carelink-backend/internal/domain"
	"carelink-backend/pkg/logger"
	"carelink-backend/pkg/metrics"
	"carelink-backend/pkg/push"
)

// TokenStore supplies device push tokens per user.
type TokenStore interface {
	List(ctx context.Context, userID uuid.UUID) ([]string, error)
	Remove(ctx context.Context, userID uuid.UUID, tokens ...string) error
}

// ConversationStore supplies conversation membership.
type ConversationStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
}

// Service wakes the callee's devices when an OFFER is published. Pub/sub only
// reaches apps with a live socket; a backgrounded phone needs a push.
type Service struct {
	tokens        TokenStore
	conversations ConversationStore
	provider      push.Provider
	log           *zap.Logger
}

// NewService creates a new alert service
func NewService(tokens TokenStore, conversations ConversationStore, provider push.Provider) *Service {
	return &Service{
		tokens:        tokens,
		conversations: conversations,
		provider:      provider,
		log:           logger.Named("alert"),
	}
}

// NotifyIncomingCall pushes an incoming-call alert to every conversation
// member except the caller. Best-effort throughout: a push failure must
// never fail the signal that triggered it.
func (s *Service) NotifyIncomingCall(ctx context.Context, conversationID, callerID, sessionID uuid.UUID, callerName string) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		s.log.Warn("cannot resolve conversation for call alert",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err))
		return
	}

	title := "Incoming call"
	if callerName != "" {
		title = fmt.Sprintf("Incoming call from %s", callerName)
	}

	notification := &push.Notification{
		Title:    title,
		Body:     "Tap to answer",
		Priority: push.PriorityHigh,
		Sound:    "ringtone",
		Category: "incoming_call",
		Data: map[string]string{
			"type":            "incoming_call",
			"conversation_id": conversationID.String(),
			"call_session_id": sessionID.String(),
			"caller_id":       callerID.String(),
		},
	}

	for _, memberID := range conv.MemberIDs {
		if memberID == callerID {
			continue
		}
		s.pushTo(ctx, memberID, notification)
	}
}

func (s *Service) pushTo(ctx context.Context, userID uuid.UUID, notification *push.Notification) {
	tokens, err := s.tokens.List(ctx, userID)
	if err != nil {
		s.log.Warn("cannot list push tokens",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}
	if len(tokens) == 0 {
		return
	}

	result, err := s.provider.Send(ctx, notification, tokens)
	if err != nil {
		metrics.PushFailedTotal.Add(float64(len(tokens)))
		s.log.Warn("push send failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	metrics.PushSentTotal.Add(float64(result.SuccessCount))
	metrics.PushFailedTotal.Add(float64(result.FailureCount))

	if len(result.InvalidTokens) > 0 {
		if err := s.tokens.Remove(ctx, userID, result.InvalidTokens...); err != nil {
			s.log.Warn("cannot prune invalid push tokens",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}
}
