package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"carelink-backend/internal/domain"
	"carelink-backend/pkg/logger"
)

// MessageStore is the persistence the chat service writes through.
type MessageStore interface {
	Save(message *domain.Message) error
	GetByConversation(conversationID uuid.UUID, bucket, limit int, pageState []byte) ([]*domain.Message, []byte, error)
	GetRecentMessages(conversationID uuid.UUID, limit int) ([]*domain.Message, error)
}

// Publisher is the slice of the Redis client used for real-time fan-out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Service handles the conversation transcript: user messages, attachments,
// and the system lines calls leave behind.
type Service struct {
	messages MessageStore
	pub      Publisher
	log      *zap.Logger
}

// NewService creates a new chat service
func NewService(messages MessageStore, pub Publisher) *Service {
	return &Service{
		messages: messages,
		pub:      pub,
		log:      logger.Named("chat"),
	}
}

// SendMessageInput contains message data
type SendMessageInput struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Type           domain.MessageType
	Body           string
	Metadata       map[string]string
}

// SendMessage stores a message and publishes it for real-time delivery.
// Publish failures are logged, never returned; persistence is the source of
// truth and clients recover missed messages by fetching.
func (s *Service) SendMessage(ctx context.Context, input *SendMessageInput) (*domain.Message, error) {
	if input.Type == "" {
		input.Type = domain.MessageTypeText
	}

	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		Type:           input.Type,
		Body:           input.Body,
		Metadata:       input.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	message.Bucket = domain.CalculateBucket(message.CreatedAt)

	if err := s.messages.Save(message); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	s.broadcast(ctx, message)
	return message, nil
}

// AppendSystemMessage writes a system line into the transcript, such as
// "Call ended (1m 5s)". System messages carry the nil sender id.
func (s *Service) AppendSystemMessage(ctx context.Context, conversationID uuid.UUID, body string) error {
	_, err := s.SendMessage(ctx, &SendMessageInput{
		ConversationID: conversationID,
		SenderID:       domain.SystemSenderID,
		Type:           domain.MessageTypeSystem,
		Body:           body,
	})
	return err
}

func (s *Service) broadcast(ctx context.Context, message *domain.Message) {
	channel := fmt.Sprintf("chat:%s", message.ConversationID)
	data, err := json.Marshal(message)
	if err != nil {
		s.log.Warn("failed to marshal message for broadcast", zap.Error(err))
		return
	}
	if err := s.pub.Publish(ctx, channel, data).Err(); err != nil {
		s.log.Warn("failed to broadcast message",
			zap.String("conversation_id", message.ConversationID.String()),
			zap.Error(err))
	}
}

// GetMessagesInput contains query parameters
type GetMessagesInput struct {
	ConversationID uuid.UUID
	Limit          int
	PageState      []byte
}

// GetMessagesOutput contains one page of the transcript.
type GetMessagesOutput struct {
	Messages      []*domain.Message
	NextPageState []byte
	HasMore       bool
}

// GetMessages retrieves conversation messages with pagination
func (s *Service) GetMessages(ctx context.Context, input *GetMessagesInput) (*GetMessagesOutput, error) {
	if input.Limit <= 0 || input.Limit > 100 {
		input.Limit = 50
	}

	if len(input.PageState) == 0 {
		messages, err := s.messages.GetRecentMessages(input.ConversationID, input.Limit)
		if err != nil {
			return nil, fmt.Errorf("failed to get messages: %w", err)
		}
		return &GetMessagesOutput{Messages: messages}, nil
	}

	bucket := domain.CalculateBucket(time.Now().UTC())
	messages, next, err := s.messages.GetByConversation(input.ConversationID, bucket, input.Limit, input.PageState)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	return &GetMessagesOutput{
		Messages:      messages,
		NextPageState: next,
		HasMore:       len(next) > 0,
	}, nil
}
