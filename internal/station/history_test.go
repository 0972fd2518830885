package station

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"carelink-backend/internal/domain"
)

func openTestLog(t *testing.T) *CallLog {
	t.Helper()
	log, err := OpenCallLog(filepath.Join(t.TempDir(), "calls.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func newTestSession() *domain.CallSession {
	creator := uuid.New()
	return &domain.CallSession{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		ParticipantIDs: []uuid.UUID{creator, uuid.New()},
		CreatedBy:      creator,
	}
}

func TestCallLogCreateAndGet(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	sess := newTestSession()
	require.NoError(t, log.Create(ctx, sess))

	got, err := log.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)
	require.Equal(t, sess.ConversationID, got.ConversationID)
	require.Equal(t, sess.ParticipantIDs, got.ParticipantIDs)
	require.Equal(t, sess.CreatedBy, got.CreatedBy)
	require.Equal(t, domain.CallStatusRinging, got.Status)
	require.Nil(t, got.StartedAt)
	require.Nil(t, got.EndedAt)
}

func TestCallLogGetUnknown(t *testing.T) {
	log := openTestLog(t)

	_, err := log.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCallLogMarkConnectedSetsStartedAtOnce(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	sess := newTestSession()
	require.NoError(t, log.Create(ctx, sess))

	first := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, log.MarkConnected(ctx, sess.ID, first))
	require.NoError(t, log.MarkConnected(ctx, sess.ID, first.Add(time.Minute)))

	got, err := log.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CallStatusConnected, got.Status)
	require.NotNil(t, got.StartedAt)
	require.Equal(t, first, *got.StartedAt)
}

func TestCallLogEndIsIdempotent(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	sess := newTestSession()
	require.NoError(t, log.Create(ctx, sess))

	first := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, log.End(ctx, sess.ID, first))
	require.NoError(t, log.End(ctx, sess.ID, first.Add(time.Hour)))

	got, err := log.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CallStatusEnded, got.Status)
	require.NotNil(t, got.EndedAt)
	require.Equal(t, first, *got.EndedAt)
}

func TestCallLogConnectAfterEndIsNoOp(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	sess := newTestSession()
	require.NoError(t, log.Create(ctx, sess))
	require.NoError(t, log.End(ctx, sess.ID, time.Now()))

	require.NoError(t, log.MarkConnected(ctx, sess.ID, time.Now()))

	got, err := log.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CallStatusEnded, got.Status)
	require.Nil(t, got.StartedAt)
}

func TestCallLogRecentOrdersNewestFirst(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	older := newTestSession()
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, log.Create(ctx, older))

	newer := newTestSession()
	require.NoError(t, log.Create(ctx, newer))

	sessions, err := log.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, newer.ID, sessions[0].ID)
	require.Equal(t, older.ID, sessions[1].ID)
}
