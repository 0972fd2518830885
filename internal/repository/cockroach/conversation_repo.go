package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carelink-backend/internal/domain"
)

// ErrConversationNotFound is returned when no conversation exists for the id.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository handles conversation directory operations
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// Create inserts a new conversation
func (r *ConversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	query := `
		INSERT INTO conversations (conversation_id, title, member_ids, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`

	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	_, err := r.pool.Exec(ctx, query,
		conv.ConversationID,
		conv.Title,
		uuidStrings(conv.MemberIDs),
		conv.CreatedBy,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// Get retrieves a conversation by id
func (r *ConversationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT conversation_id, title, member_ids, created_by, created_at, updated_at
		FROM conversations
		WHERE conversation_id = $1
	`

	conv := &domain.Conversation{}
	var members []string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&conv.ConversationID,
		&conv.Title,
		&members,
		&conv.CreatedBy,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	if conv.MemberIDs, err = parseUUIDs(members); err != nil {
		return nil, fmt.Errorf("failed to parse member ids: %w", err)
	}
	return conv, nil
}

// ListByMember retrieves the conversations a user belongs to, newest first.
func (r *ConversationRepository) ListByMember(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, error) {
	query := `
		SELECT conversation_id, title, member_ids, created_by, created_at, updated_at
		FROM conversations
		WHERE $1::TEXT = ANY(member_ids)
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		conv := &domain.Conversation{}
		var members []string
		err := rows.Scan(
			&conv.ConversationID,
			&conv.Title,
			&members,
			&conv.CreatedBy,
			&conv.CreatedAt,
			&conv.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		if conv.MemberIDs, err = parseUUIDs(members); err != nil {
			return nil, fmt.Errorf("failed to parse member ids: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

// IsMember reports whether the user belongs to the conversation
func (r *ConversationRepository) IsMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM conversations
			WHERE conversation_id = $1 AND $2::TEXT = ANY(member_ids)
		)
	`

	var ok bool
	if err := r.pool.QueryRow(ctx, query, conversationID, userID.String()).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return ok, nil
}
