package alert

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink-backend/internal/domain"
	"carelink-backend/pkg/push"
)

type fakeTokenStore struct {
	mu      sync.Mutex
	tokens  map[uuid.UUID][]string
	removed map[uuid.UUID][]string
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{
		tokens:  make(map[uuid.UUID][]string),
		removed: make(map[uuid.UUID][]string),
	}
}

func (s *fakeTokenStore) List(_ context.Context, userID uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[userID], nil
}

func (s *fakeTokenStore) Remove(_ context.Context, userID uuid.UUID, tokens ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed[userID] = append(s.removed[userID], tokens...)
	return nil
}

type fakeConversationStore struct {
	conv *domain.Conversation
}

func (s *fakeConversationStore) Get(_ context.Context, _ uuid.UUID) (*domain.Conversation, error) {
	return s.conv, nil
}

type fakeProvider struct {
	mu      sync.Mutex
	sent    [][]string
	titles  []string
	result  *push.SendResult
	sendErr error
}

func (p *fakeProvider) Send(_ context.Context, n *push.Notification, tokens []string) (*push.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return nil, p.sendErr
	}
	p.sent = append(p.sent, tokens)
	p.titles = append(p.titles, n.Title)
	if p.result != nil {
		return p.result, nil
	}
	return &push.SendResult{SuccessCount: len(tokens)}, nil
}

func TestNotifySkipsCaller(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	convID := uuid.New()

	tokens := newFakeTokenStore()
	tokens.tokens[caller] = []string{"caller-token"}
	tokens.tokens[callee] = []string{"callee-token"}

	provider := &fakeProvider{}
	svc := NewService(tokens, &fakeConversationStore{conv: &domain.Conversation{
		ConversationID: convID,
		MemberIDs:      []uuid.UUID{caller, callee},
	}}, provider)

	svc.NotifyIncomingCall(context.Background(), convID, caller, uuid.New(), "Dr. Reyes")

	require.Len(t, provider.sent, 1)
	assert.Equal(t, []string{"callee-token"}, provider.sent[0])
	assert.Equal(t, "Incoming call from Dr. Reyes", provider.titles[0])
}

func TestNotifyPrunesInvalidTokens(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()

	tokens := newFakeTokenStore()
	tokens.tokens[callee] = []string{"good", "stale"}

	provider := &fakeProvider{result: &push.SendResult{
		SuccessCount:  1,
		FailureCount:  1,
		InvalidTokens: []string{"stale"},
	}}
	svc := NewService(tokens, &fakeConversationStore{conv: &domain.Conversation{
		MemberIDs: []uuid.UUID{caller, callee},
	}}, provider)

	svc.NotifyIncomingCall(context.Background(), uuid.New(), caller, uuid.New(), "")

	assert.Equal(t, []string{"stale"}, tokens.removed[callee])
}

func TestNotifySkipsMembersWithoutTokens(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()

	provider := &fakeProvider{}
	svc := NewService(newFakeTokenStore(), &fakeConversationStore{conv: &domain.Conversation{
		MemberIDs: []uuid.UUID{caller, callee},
	}}, provider)

	svc.NotifyIncomingCall(context.Background(), uuid.New(), caller, uuid.New(), "Dr. Reyes")
	assert.Empty(t, provider.sent)
}
