package station

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"carelink-backend/internal/domain"
)

// ErrSessionNotFound is returned by CallLog.Get for unknown sessions.
var ErrSessionNotFound = stderrors.New("call session not found in local log")

const callLogSchema = `
CREATE TABLE IF NOT EXISTS call_log (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	participant_ids TEXT NOT NULL,
	created_by      TEXT NOT NULL,
	status          TEXT NOT NULL,
	started_at      INTEGER,
	ended_at        INTEGER,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_log_conversation ON call_log (conversation_id, created_at DESC);
`

// CallLog is the station's local call record, kept in an embedded SQLite
// database. It mirrors the backend session semantics: monotonic status,
// set-once timestamps, idempotent transitions.
type CallLog struct {
	db *sql.DB
}

// OpenCallLog opens (and if needed initializes) the log at path.
func OpenCallLog(path string) (*CallLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}
	// The station is the only writer; a single connection sidesteps
	// SQLITE_BUSY under concurrent machine and CLI access.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(callLogSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize call log schema: %w", err)
	}
	return &CallLog{db: db}, nil
}

// Close closes the underlying database.
func (l *CallLog) Close() error {
	return l.db.Close()
}

// Create inserts a new session record in RINGING state.
func (l *CallLog) Create(ctx context.Context, sess *domain.CallSession) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.Status == "" {
		sess.Status = domain.CallStatusRinging
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO call_log (id, conversation_id, participant_ids, created_by, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID.String(),
		sess.ConversationID.String(),
		joinUUIDs(sess.ParticipantIDs),
		sess.CreatedBy.String(),
		string(sess.Status),
		sess.CreatedAt.UnixMilli(),
		sess.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record call session: %w", err)
	}
	return nil
}

// MarkConnected moves a RINGING session to CONNECTED. started_at is set once;
// repeats and late calls are no-ops.
func (l *CallLog) MarkConnected(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE call_log
		 SET status = ?, started_at = COALESCE(started_at, ?), updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(domain.CallStatusConnected),
		at.UTC().UnixMilli(),
		time.Now().UTC().UnixMilli(),
		id.String(),
		string(domain.CallStatusRinging),
	)
	if err != nil {
		return fmt.Errorf("failed to mark call connected: %w", err)
	}
	return nil
}

// End moves a session to ENDED. ended_at is set once; ending an already
// ENDED session is a no-op.
func (l *CallLog) End(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE call_log
		 SET status = ?, ended_at = COALESCE(ended_at, ?), updated_at = ?
		 WHERE id = ? AND status <> ?`,
		string(domain.CallStatusEnded),
		at.UTC().UnixMilli(),
		time.Now().UTC().UnixMilli(),
		id.String(),
		string(domain.CallStatusEnded),
	)
	if err != nil {
		return fmt.Errorf("failed to mark call ended: %w", err)
	}
	return nil
}

// Get fetches one session record.
func (l *CallLog) Get(ctx context.Context, id uuid.UUID) (*domain.CallSession, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, participant_ids, created_by, status, started_at, ended_at, created_at, updated_at
		 FROM call_log WHERE id = ?`,
		id.String(),
	)
	sess, err := scanSession(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load call session: %w", err)
	}
	return sess, nil
}

// Recent lists the newest sessions in the log, most recent first.
func (l *CallLog) Recent(ctx context.Context, limit int) ([]*domain.CallSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, conversation_id, participant_ids, created_by, status, started_at, ended_at, created_at, updated_at
		 FROM call_log ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list call log: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.CallSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call log row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.CallSession, error) {
	var (
		idStr, convStr, participantsStr, createdByStr, statusStr string

		startedAt, endedAt   sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&idStr, &convStr, &participantsStr, &createdByStr, &statusStr,
		&startedAt, &endedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt session id %q: %w", idStr, err)
	}
	convID, err := uuid.Parse(convStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt conversation id %q: %w", convStr, err)
	}
	createdBy, err := uuid.Parse(createdByStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt creator id %q: %w", createdByStr, err)
	}
	participants, err := splitUUIDs(participantsStr)
	if err != nil {
		return nil, err
	}

	sess := &domain.CallSession{
		ID:             id,
		ConversationID: convID,
		ParticipantIDs: participants,
		CreatedBy:      createdBy,
		Status:         domain.CallStatus(statusStr),
		CreatedAt:      time.UnixMilli(createdAt).UTC(),
		UpdatedAt:      time.UnixMilli(updatedAt).UTC(),
	}
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64).UTC()
		sess.StartedAt = &t
	}
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64).UTC()
		sess.EndedAt = &t
	}
	return sess, nil
}

func joinUUIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

func splitUUIDs(s string) ([]uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("corrupt participant id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
