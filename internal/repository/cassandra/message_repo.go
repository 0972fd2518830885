package cassandra

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"carelink-backend/internal/domain"
)

// MessageRepository handles message storage in Cassandra. Conversations are
// partitioned by (conversation_id, bucket) where bucket is a YYYYMM integer,
// so a long-lived care conversation never grows a single partition unbounded.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// Save inserts a new message
func (r *MessageRepository) Save(message *domain.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	if message.Bucket == 0 {
		message.Bucket = domain.CalculateBucket(message.CreatedAt)
	}
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}

	query := `
		INSERT INTO messages (
			conversation_id, bucket, message_id, sender_id, message_type,
			body, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		message.ConversationID,
		message.Bucket,
		message.MessageID,
		message.SenderID,
		message.Type,
		message.Body,
		message.Metadata,
		message.CreatedAt,
	).Exec()
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetByConversation retrieves messages for a conversation within one bucket,
// newest first, with cursor-based pagination.
func (r *MessageRepository) GetByConversation(
	conversationID uuid.UUID,
	bucket int,
	limit int,
	pageState []byte,
) ([]*domain.Message, []byte, error) {
	query := `
		SELECT conversation_id, bucket, message_id, sender_id, message_type,
		       body, metadata, created_at
		FROM messages
		WHERE conversation_id = ? AND bucket = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	iter := r.session.Query(query, conversationID, bucket, limit).PageState(pageState).Iter()

	var messages []*domain.Message
	for {
		message := &domain.Message{}
		if !iter.Scan(
			&message.ConversationID,
			&message.Bucket,
			&message.MessageID,
			&message.SenderID,
			&message.Type,
			&message.Body,
			&message.Metadata,
			&message.CreatedAt,
		) {
			break
		}
		messages = append(messages, message)
	}

	nextPageState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return messages, nextPageState, nil
}

// GetRecentMessages gets messages from the current bucket, falling back to
// the previous month when the current one is still empty.
func (r *MessageRepository) GetRecentMessages(conversationID uuid.UUID, limit int) ([]*domain.Message, error) {
	now := time.Now().UTC()
	messages, _, err := r.GetByConversation(conversationID, domain.CalculateBucket(now), limit, nil)
	if err != nil {
		return nil, err
	}
	if len(messages) < limit {
		prev := domain.CalculateBucket(now.AddDate(0, -1, 0))
		older, _, err := r.GetByConversation(conversationID, prev, limit-len(messages), nil)
		if err != nil {
			return nil, err
		}
		messages = append(messages, older...)
	}
	return messages, nil
}

// GetByID retrieves a specific message
func (r *MessageRepository) GetByID(conversationID uuid.UUID, bucket int, messageID uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT conversation_id, bucket, message_id, sender_id, message_type,
		       body, metadata, created_at
		FROM messages
		WHERE conversation_id = ? AND bucket = ? AND message_id = ?
		LIMIT 1
	`

	message := &domain.Message{}
	err := r.session.Query(query, conversationID, bucket, messageID).Scan(
		&message.ConversationID,
		&message.Bucket,
		&message.MessageID,
		&message.SenderID,
		&message.Type,
		&message.Body,
		&message.Metadata,
		&message.CreatedAt,
	)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("message not found")
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return message, nil
}

// Delete removes a message, for retention and data-deletion requests.
func (r *MessageRepository) Delete(conversationID uuid.UUID, bucket int, messageID uuid.UUID) error {
	query := `DELETE FROM messages WHERE conversation_id = ? AND bucket = ? AND message_id = ?`

	if err := r.session.Query(query, conversationID, bucket, messageID).Exec(); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}
