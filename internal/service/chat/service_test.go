package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink-backend/internal/domain"
)

type fakeMessageStore struct {
	mu      sync.Mutex
	saved   []*domain.Message
	saveErr error
}

func (s *fakeMessageStore) Save(message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, message)
	return nil
}

func (s *fakeMessageStore) GetByConversation(_ uuid.UUID, _, _ int, _ []byte) ([]*domain.Message, []byte, error) {
	return nil, nil, nil
}

func (s *fakeMessageStore) GetRecentMessages(conversationID uuid.UUID, limit int) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Message
	for _, m := range s.saved {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, _ interface{}) *redis.IntCmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	cmd := redis.NewIntCmd(ctx)
	if p.err != nil {
		cmd.SetErr(p.err)
	}
	return cmd
}

func TestSendMessagePersistsAndBroadcasts(t *testing.T) {
	store := &fakeMessageStore{}
	pub := &fakePublisher{}
	svc := NewService(store, pub)
	convID := uuid.New()
	sender := uuid.New()

	msg, err := svc.SendMessage(context.Background(), &SendMessageInput{
		ConversationID: convID,
		SenderID:       sender,
		Body:           "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.MessageTypeText, msg.Type)
	assert.NotEqual(t, uuid.Nil, msg.MessageID)
	assert.NotZero(t, msg.Bucket)
	require.Len(t, store.saved, 1)
	assert.Equal(t, []string{"chat:" + convID.String()}, pub.channels)
}

func TestSendMessageSurvivesBroadcastFailure(t *testing.T) {
	store := &fakeMessageStore{}
	pub := &fakePublisher{err: errors.New("redis down")}
	svc := NewService(store, pub)

	_, err := svc.SendMessage(context.Background(), &SendMessageInput{
		ConversationID: uuid.New(),
		SenderID:       uuid.New(),
		Body:           "hello",
	})
	assert.NoError(t, err, "persistence is the source of truth; broadcast is best-effort")
}

func TestSendMessageFailsWhenStoreFails(t *testing.T) {
	store := &fakeMessageStore{saveErr: errors.New("cassandra down")}
	svc := NewService(store, &fakePublisher{})

	_, err := svc.SendMessage(context.Background(), &SendMessageInput{
		ConversationID: uuid.New(),
		SenderID:       uuid.New(),
		Body:           "hello",
	})
	assert.Error(t, err)
}

func TestAppendSystemMessage(t *testing.T) {
	store := &fakeMessageStore{}
	svc := NewService(store, &fakePublisher{})
	convID := uuid.New()

	require.NoError(t, svc.AppendSystemMessage(context.Background(), convID, "Call ended (1m 5s)"))

	require.Len(t, store.saved, 1)
	msg := store.saved[0]
	assert.Equal(t, domain.MessageTypeSystem, msg.Type)
	assert.Equal(t, domain.SystemSenderID, msg.SenderID)
	assert.Equal(t, "Call ended (1m 5s)", msg.Body)
}

func TestGetMessagesClampsLimit(t *testing.T) {
	store := &fakeMessageStore{}
	svc := NewService(store, &fakePublisher{})
	convID := uuid.New()

	for i := 0; i < 60; i++ {
		_, err := svc.SendMessage(context.Background(), &SendMessageInput{
			ConversationID: convID,
			SenderID:       uuid.New(),
			Body:           "m",
		})
		require.NoError(t, err)
	}

	out, err := svc.GetMessages(context.Background(), &GetMessagesInput{ConversationID: convID, Limit: 0})
	require.NoError(t, err)
	assert.Len(t, out.Messages, 50)
}
