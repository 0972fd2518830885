package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"carelink-backend/internal/domain"
	"carelink-backend/pkg/logger"
	"carelink-backend/pkg/metrics"
)

// subscriptionBuffer bounds how many undelivered signals a subscriber may
// accumulate before newer ones are dropped. Signaling is best-effort; a
// consumer that stalls for 64 signals is already past saving the call.
const subscriptionBuffer = 64

// Archiver persists published signals for audit. Archive failures never block
// or fail delivery.
type Archiver interface {
	Insert(ctx context.Context, sig *domain.CallSignal) error
}

// Channel is the Redis-backed signal transport. One pub/sub topic per
// conversation; no ordering or delivery guarantees beyond what Redis gives.
type Channel struct {
	client   *redis.Client
	archiver Archiver
	log      *zap.Logger
}

// NewChannel creates a signal channel over the given Redis client. archiver
// may be nil when audit persistence is not wanted (headless endpoints).
func NewChannel(client *redis.Client, archiver Archiver) *Channel {
	return &Channel{
		client:   client,
		archiver: archiver,
		log:      logger.Named("signaling"),
	}
}

func topicFor(conversationID uuid.UUID) string {
	return fmt.Sprintf("callsignal:%s", conversationID)
}

// Publish sends one signal to every subscriber of the conversation. The
// channel assigns the signal id and timestamp so senders cannot forge them.
func (c *Channel) Publish(ctx context.Context, sig *domain.CallSignal) error {
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	if err := c.client.Publish(ctx, topicFor(sig.ConversationID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish signal: %w", err)
	}
	metrics.SignalsPublishedTotal.WithLabelValues(string(sig.Type)).Inc()

	if c.archiver != nil {
		if err := c.archiver.Insert(ctx, sig); err != nil {
			c.log.Warn("failed to archive signal",
				zap.String("signal_id", sig.ID.String()),
				zap.String("type", string(sig.Type)),
				zap.Error(err))
		} else {
			metrics.SignalsArchivedTotal.Inc()
		}
	}
	return nil
}

// Subscription is one live listener on a conversation's signal topic.
type Subscription struct {
	signals chan domain.CallSignal
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	once    sync.Once
}

// Signals returns the stream of inbound signals. The channel is closed after
// Unsubscribe or when the underlying pub/sub connection dies.
func (s *Subscription) Signals() <-chan domain.CallSignal {
	return s.signals
}

// Unsubscribe tears the subscription down. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		_ = s.pubsub.Close()
	})
}

// Subscribe starts listening on a conversation's signal topic. Malformed or
// unknown-type payloads are counted and dropped before they reach the caller.
func (c *Channel) Subscribe(ctx context.Context, conversationID uuid.UUID) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(context.Background())

	pubsub := c.client.Subscribe(subCtx, topicFor(conversationID))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to signal topic: %w", err)
	}

	sub := &Subscription{
		signals: make(chan domain.CallSignal, subscriptionBuffer),
		pubsub:  pubsub,
		cancel:  cancel,
	}

	go c.pump(subCtx, conversationID, pubsub.Channel(), sub.signals)

	return sub, nil
}

func (c *Channel) pump(ctx context.Context, conversationID uuid.UUID, in <-chan *redis.Message, out chan<- domain.CallSignal) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}

			var sig domain.CallSignal
			if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
				metrics.SignalsDroppedTotal.WithLabelValues("malformed").Inc()
				c.log.Warn("dropping malformed signal",
					zap.String("conversation_id", conversationID.String()),
					zap.Error(err))
				continue
			}

			canonical, ok := domain.ParseSignalType(string(sig.Type))
			if !ok {
				metrics.SignalsDroppedTotal.WithLabelValues("unknown_type").Inc()
				c.log.Warn("dropping signal with unknown type",
					zap.String("conversation_id", conversationID.String()),
					zap.String("type", string(sig.Type)))
				continue
			}
			sig.Type = canonical

			select {
			case out <- sig:
			default:
				metrics.SignalsDroppedTotal.WithLabelValues("slow_consumer").Inc()
				c.log.Warn("dropping signal for slow consumer",
					zap.String("conversation_id", conversationID.String()),
					zap.String("type", string(sig.Type)))
			}
		}
	}
}
