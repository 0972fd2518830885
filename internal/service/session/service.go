package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carelink-backend/internal/domain"
	"carelink-backend/internal/repository/cockroach"
	"carelink-backend/pkg/errors"
	"carelink-backend/pkg/logger"
)

// SessionRepo persists call session records.
type SessionRepo interface {
	Create(ctx context.Context, sess *domain.CallSession) error
	MarkConnected(ctx context.Context, id uuid.UUID, at time.Time) error
	End(ctx context.Context, id uuid.UUID, at time.Time) error
	Get(ctx context.Context, id uuid.UUID) (*domain.CallSession, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error)
}

// ConversationRepo supplies membership data for authorization and for the
// participant list recorded on new sessions.
type ConversationRepo interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
}

// SignalRepo reads the signal audit archive.
type SignalRepo interface {
	ListBySession(ctx context.Context, callSessionID uuid.UUID) ([]*domain.CallSignal, error)
}

// Service owns the call session lifecycle on the backend side: creation,
// the idempotent status patches both parties race to apply, and history.
type Service struct {
	sessions      SessionRepo
	conversations ConversationRepo
	signals       SignalRepo
	log           *zap.Logger
}

// NewService creates a new session service
func NewService(sessions SessionRepo, conversations ConversationRepo, signals SignalRepo) *Service {
	return &Service{
		sessions:      sessions,
		conversations: conversations,
		signals:       signals,
		log:           logger.Named("session"),
	}
}

// Start creates a RINGING session for a call the user is placing.
func (s *Service) Start(ctx context.Context, conversationID, createdBy uuid.UUID) (*domain.CallSession, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		if stderrors.Is(err, cockroach.ErrConversationNotFound) {
			return nil, errors.NotFound(errors.ErrCodeConversationNotFound, "conversation not found")
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if !conv.HasMember(createdBy) {
		return nil, errors.Forbidden("not a member of this conversation")
	}

	sess := &domain.CallSession{
		ID:             uuid.New(),
		ConversationID: conversationID,
		ParticipantIDs: conv.MemberIDs,
		CreatedBy:      createdBy,
		Status:         domain.CallStatusRinging,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.log.Info("call session created",
		zap.String("session_id", sess.ID.String()),
		zap.String("conversation_id", conversationID.String()))
	return sess, nil
}

// Get returns one session, restricted to its participants.
func (s *Service) Get(ctx context.Context, id, requester uuid.UUID) (*domain.CallSession, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		if stderrors.Is(err, cockroach.ErrSessionNotFound) {
			return nil, errors.NotFound(errors.ErrCodeSessionNotFound, "call session not found")
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if !participant(sess, requester) {
		return nil, errors.Forbidden("not a participant of this call")
	}
	return sess, nil
}

// MarkConnected records the first media connection. Idempotent: both parties
// report it and only the first write sets started_at.
func (s *Service) MarkConnected(ctx context.Context, id, requester uuid.UUID) error {
	if _, err := s.Get(ctx, id, requester); err != nil {
		return err
	}
	if err := s.sessions.MarkConnected(ctx, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark session connected: %w", err)
	}
	return nil
}

// End moves the session to ENDED. Idempotent; both parties and the ring
// timeout may all request it.
func (s *Service) End(ctx context.Context, id, requester uuid.UUID) error {
	if _, err := s.Get(ctx, id, requester); err != nil {
		return err
	}
	if err := s.sessions.End(ctx, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// History lists the user's past calls, newest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	sessions, err := s.sessions.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Signals returns the archived signal trail of one session, for support and
// debugging. Restricted to participants.
func (s *Service) Signals(ctx context.Context, sessionID, requester uuid.UUID) ([]*domain.CallSignal, error) {
	if _, err := s.Get(ctx, sessionID, requester); err != nil {
		return nil, err
	}
	signals, err := s.signals.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	return signals, nil
}

func participant(sess *domain.CallSession, userID uuid.UUID) bool {
	for _, id := range sess.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}
