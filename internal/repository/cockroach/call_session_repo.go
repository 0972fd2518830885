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

// ErrSessionNotFound is returned when no call session exists for the id.
var ErrSessionNotFound = errors.New("call session not found")

// CallSessionRepository persists call sessions. The status column is
// monotonic and started_at / ended_at are set at most once; both invariants
// are enforced in the UPDATE predicates so that concurrent or duplicate
// patches from either party cannot rewind a session.
type CallSessionRepository struct {
	pool *pgxpool.Pool
}

// NewCallSessionRepository creates a new call session repository
func NewCallSessionRepository(pool *pgxpool.Pool) *CallSessionRepository {
	return &CallSessionRepository{pool: pool}
}

// Create inserts a new session. Status starts at RINGING and started_at is
// left NULL until the first connected event.
func (r *CallSessionRepository) Create(ctx context.Context, sess *domain.CallSession) error {
	query := `
		INSERT INTO call_sessions (
			id, conversation_id, participant_ids, created_by, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $6)
	`

	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	if sess.Status == "" {
		sess.Status = domain.CallStatusRinging
	}

	_, err := r.pool.Exec(ctx, query,
		sess.ID,
		sess.ConversationID,
		uuidStrings(sess.ParticipantIDs),
		sess.CreatedBy,
		sess.Status,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create call session: %w", err)
	}
	return nil
}

// MarkConnected moves a RINGING session to CONNECTED and records started_at
// once. A session already CONNECTED or ENDED is left untouched.
func (r *CallSessionRepository) MarkConnected(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE call_sessions
		SET status = $2,
		    started_at = COALESCE(started_at, $3),
		    updated_at = now()
		WHERE id = $1 AND status = $4
	`

	_, err := r.pool.Exec(ctx, query, id, domain.CallStatusConnected, at.UTC(), domain.CallStatusRinging)
	if err != nil {
		return fmt.Errorf("failed to mark call session connected: %w", err)
	}
	return nil
}

// End moves a session to ENDED and records ended_at once. Idempotent: ending
// an already-ENDED session is a no-op.
func (r *CallSessionRepository) End(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE call_sessions
		SET status = $2,
		    ended_at = COALESCE(ended_at, $3),
		    updated_at = now()
		WHERE id = $1 AND status <> $2
	`

	_, err := r.pool.Exec(ctx, query, id, domain.CallStatusEnded, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to end call session: %w", err)
	}
	return nil
}

// Get retrieves a session by id
func (r *CallSessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.CallSession, error) {
	query := `
		SELECT id, conversation_id, participant_ids, created_by, status,
		       started_at, ended_at, created_at, updated_at
		FROM call_sessions
		WHERE id = $1
	`

	sess := &domain.CallSession{}
	var participants []string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&sess.ID,
		&sess.ConversationID,
		&participants,
		&sess.CreatedBy,
		&sess.Status,
		&sess.StartedAt,
		&sess.EndedAt,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}

	sess.ParticipantIDs, err = parseUUIDs(participants)
	if err != nil {
		return nil, fmt.Errorf("failed to parse participant ids: %w", err)
	}
	return sess, nil
}

// ListByUser retrieves past sessions a user participated in, newest first.
func (r *CallSessionRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	query := `
		SELECT id, conversation_id, participant_ids, created_by, status,
		       started_at, ended_at, created_at, updated_at
		FROM call_sessions
		WHERE $1::TEXT = ANY(participant_ids)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list call sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.CallSession
	for rows.Next() {
		sess := &domain.CallSession{}
		var participants []string
		err := rows.Scan(
			&sess.ID,
			&sess.ConversationID,
			&participants,
			&sess.CreatedBy,
			&sess.Status,
			&sess.StartedAt,
			&sess.EndedAt,
			&sess.CreatedAt,
			&sess.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call session: %w", err)
		}
		if sess.ParticipantIDs, err = parseUUIDs(participants); err != nil {
			return nil, fmt.Errorf("failed to parse participant ids: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(ss []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(ss))
	for i, s := range ss {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
