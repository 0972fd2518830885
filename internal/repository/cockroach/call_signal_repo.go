package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"carelink-backend/internal/domain"
)

// CallSignalRepository archives signals for audit. Rows are append-only and
// never updated or deleted; the pub/sub channel, not this table, is the
// delivery path.
type CallSignalRepository struct {
	pool *pgxpool.Pool
}

// NewCallSignalRepository creates a new call signal repository
func NewCallSignalRepository(pool *pgxpool.Pool) *CallSignalRepository {
	return &CallSignalRepository{pool: pool}
}

// Insert archives one signal
func (r *CallSignalRepository) Insert(ctx context.Context, sig *domain.CallSignal) error {
	query := `
		INSERT INTO call_signals (
			id, conversation_id, call_session_id, sender_id, type, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		sig.ID,
		sig.ConversationID,
		sig.CallSessionID,
		sig.SenderID,
		sig.Type,
		sig.Payload,
		sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive call signal: %w", err)
	}
	return nil
}

// ListBySession retrieves the archived signals of one session in creation
// order, for audit and debugging.
func (r *CallSignalRepository) ListBySession(ctx context.Context, callSessionID uuid.UUID) ([]*domain.CallSignal, error) {
	query := `
		SELECT id, conversation_id, call_session_id, sender_id, type, payload, created_at
		FROM call_signals
		WHERE call_session_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, callSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list call signals: %w", err)
	}
	defer rows.Close()

	var signals []*domain.CallSignal
	for rows.Next() {
		sig := &domain.CallSignal{}
		err := rows.Scan(
			&sig.ID,
			&sig.ConversationID,
			&sig.CallSessionID,
			&sig.SenderID,
			&sig.Type,
			&sig.Payload,
			&sig.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call signal: %w", err)
		}
		signals = append(signals, sig)
	}
	return signals, nil
}
