package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carelink-backend/internal/domain"
)

func newTestChannel() *Channel {
	return &Channel{log: zap.NewNop()}
}

func pumpFixture(t *testing.T, bufSize int) (chan *redis.Message, chan domain.CallSignal, context.CancelFunc) {
	t.Helper()
	in := make(chan *redis.Message, 16)
	out := make(chan domain.CallSignal, bufSize)
	ctx, cancel := context.WithCancel(context.Background())
	go newTestChannel().pump(ctx, uuid.New(), in, out)
	return in, out, cancel
}

func TestPumpDeliversSignal(t *testing.T) {
	in, out, cancel := pumpFixture(t, subscriptionBuffer)
	defer cancel()

	in <- &redis.Message{Payload: `{"type":"OFFER","sender_id":"` + uuid.New().String() + `","payload":"{}"}`}

	select {
	case sig := <-out:
		assert.Equal(t, domain.SignalOffer, sig.Type)
	case <-time.After(time.Second):
		t.Fatal("signal not delivered")
	}
}

func TestPumpCollapsesLegacySynonyms(t *testing.T) {
	in, out, cancel := pumpFixture(t, subscriptionBuffer)
	defer cancel()

	cases := map[string]domain.SignalType{
		"DECLINE":       domain.SignalDeclined,
		"TIMEOUT":       domain.SignalCancel,
		"CALL_CANCELED": domain.SignalCancel,
		"ENDED":         domain.SignalBye,
		"ICE_CANDIDATE": domain.SignalICE,
	}

	for legacy, want := range cases {
		in <- &redis.Message{Payload: `{"type":"` + legacy + `"}`}

		select {
		case sig := <-out:
			assert.Equal(t, want, sig.Type, "legacy type %s", legacy)
		case <-time.After(time.Second):
			t.Fatalf("signal with legacy type %s not delivered", legacy)
		}
	}
}

func TestPumpDropsMalformedAndUnknown(t *testing.T) {
	in, out, cancel := pumpFixture(t, subscriptionBuffer)
	defer cancel()

	in <- &redis.Message{Payload: `not json at all`}
	in <- &redis.Message{Payload: `{"type":"TELEPORT"}`}
	in <- &redis.Message{Payload: `{"type":"BYE"}`}

	select {
	case sig := <-out:
		assert.Equal(t, domain.SignalBye, sig.Type, "only the valid signal should come through")
	case <-time.After(time.Second):
		t.Fatal("valid signal not delivered")
	}

	select {
	case sig := <-out:
		t.Fatalf("unexpected extra signal: %v", sig.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPumpDropsWhenConsumerIsFull(t *testing.T) {
	in, out, cancel := pumpFixture(t, 1)
	defer cancel()

	in <- &redis.Message{Payload: `{"type":"ICE"}`}
	in <- &redis.Message{Payload: `{"type":"ICE"}`}
	in <- &redis.Message{Payload: `{"type":"ICE"}`}

	// Give the pump time to process all three against a 1-slot consumer.
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, len(out), 1)
}

func TestPumpClosesOutputOnCancel(t *testing.T) {
	in, out, cancel := pumpFixture(t, subscriptionBuffer)
	_ = in

	cancel()

	select {
	case _, ok := <-out:
		require.False(t, ok, "output should be closed")
	case <-time.After(time.Second):
		t.Fatal("output not closed after cancel")
	}
}
