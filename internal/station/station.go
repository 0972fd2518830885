// Package station runs a headless call endpoint: a kiosk or exam-room device
// that places and answers calls in one conversation without the mobile app.
// It drives the same call machine the phones use, keeps its call log in a
// local SQLite database, and leaves transcript messages through the REST API.
package station

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"carelink-backend/internal/call"
	"carelink-backend/internal/domain"
	"carelink-backend/internal/media/pion"
	"carelink-backend/internal/signaling"
	"carelink-backend/pkg/logger"
)

// Config configures one Station.
type Config struct {
	UserID         uuid.UUID
	DisplayName    string
	ConversationID uuid.UUID

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	APIBaseURL string
	APIToken   string

	// LogPath is the SQLite call log location.
	LogPath string

	// AutoAccept answers every incoming call immediately. Meant for
	// unattended endpoints such as a ward monitor.
	AutoAccept bool

	RingTimeout time.Duration
	STUNURLs    []string
}

// StateChange is one machine transition, delivered on States().
type StateChange struct {
	SessionID uuid.UUID
	State     call.State
}

// Station is a headless call endpoint bound to one conversation.
type Station struct {
	cfg     Config
	log     *zap.Logger
	redis   *redis.Client
	callLog *CallLog
	api     *APIClient
	machine *call.Machine

	states   chan StateChange
	incoming chan call.IncomingCall
}

// channelAdapter narrows *signaling.Channel to the machine's SignalChannel
// interface. Subscribe returns a concrete type; the adapter re-wraps it.
type channelAdapter struct {
	*signaling.Channel
}

func (a channelAdapter) Subscribe(ctx context.Context, conversationID uuid.UUID) (call.Subscription, error) {
	return a.Channel.Subscribe(ctx, conversationID)
}

// New connects the station: Redis signaling, local call log, REST API, and
// the call machine. The conversation membership is fetched from the API so
// locally created sessions carry the same participants the backend would.
func New(ctx context.Context, cfg Config) (*Station, error) {
	log := logger.Named("station").With(zap.String("conversation_id", cfg.ConversationID.String()))

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	callLog, err := OpenCallLog(cfg.LogPath)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	api := NewAPIClient(cfg.APIBaseURL, cfg.APIToken)

	participants := []uuid.UUID{cfg.UserID}
	if conv, err := api.Conversation(ctx, cfg.ConversationID); err != nil {
		// Degraded but workable: sessions record only the station itself.
		log.Warn("could not resolve conversation members", zap.Error(err))
	} else {
		participants = conv.MemberIDs
	}

	mediaCfg := pion.DefaultConfig()
	if len(cfg.STUNURLs) > 0 {
		mediaCfg.STUNURLs = cfg.STUNURLs
	}
	engine := pion.NewEngine(mediaCfg)

	st := &Station{
		cfg:      cfg,
		log:      log,
		redis:    client,
		callLog:  callLog,
		api:      api,
		states:   make(chan StateChange, 16),
		incoming: make(chan call.IncomingCall, 4),
	}

	channel := signaling.NewChannel(client, nil)
	machine, err := call.NewMachine(ctx, call.Config{
		UserID:         cfg.UserID,
		DisplayName:    cfg.DisplayName,
		ConversationID: cfg.ConversationID,
		Participants:   participants,
		RingTimeout:    cfg.RingTimeout,
	}, channelAdapter{channel}, callLog, api, engine, call.Hooks{
		OnStateChange:          st.onStateChange,
		OnIncomingCall:         st.onIncomingCall,
		OnIncomingCallCanceled: st.onIncomingCanceled,
		OnNotice:               func(msg string) { log.Warn(msg) },
	})
	if err != nil {
		_ = callLog.Close()
		_ = client.Close()
		return nil, err
	}
	st.machine = machine

	log.Info("station online",
		zap.String("user_id", cfg.UserID.String()),
		zap.Bool("auto_accept", cfg.AutoAccept))
	return st, nil
}

func (s *Station) onStateChange(sessionID uuid.UUID, state call.State) {
	s.log.Info("call state changed",
		zap.String("session_id", sessionID.String()),
		zap.String("state", string(state)))
	select {
	case s.states <- StateChange{SessionID: sessionID, State: state}:
	default:
	}
}

func (s *Station) onIncomingCall(inc call.IncomingCall) {
	s.log.Info("incoming call",
		zap.String("session_id", inc.SessionID.String()),
		zap.String("caller", inc.CallerName))
	select {
	case s.incoming <- inc:
	default:
	}

	if s.cfg.AutoAccept {
		// Hooks run on the machine goroutine; Accept must not.
		go func(sessionID uuid.UUID) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.machine.Accept(ctx, sessionID); err != nil {
				s.log.Warn("auto-accept failed",
					zap.String("session_id", sessionID.String()),
					zap.Error(err))
			}
		}(inc.SessionID)
	}
}

func (s *Station) onIncomingCanceled(sessionID uuid.UUID) {
	s.log.Info("incoming call withdrawn", zap.String("session_id", sessionID.String()))
}

// Call places an outbound call into the conversation.
func (s *Station) Call(ctx context.Context) (uuid.UUID, error) {
	return s.machine.StartCall(ctx)
}

// Accept answers a ringing incoming call.
func (s *Station) Accept(ctx context.Context, sessionID uuid.UUID) error {
	return s.machine.Accept(ctx, sessionID)
}

// Decline rejects a ringing incoming call.
func (s *Station) Decline(ctx context.Context, sessionID uuid.UUID) error {
	return s.machine.Decline(ctx, sessionID)
}

// HangUp ends the active call.
func (s *Station) HangUp(ctx context.Context) error {
	return s.machine.HangUp(ctx)
}

// SetMuted toggles the local microphone.
func (s *Station) SetMuted(ctx context.Context, muted bool) error {
	return s.machine.SetMuted(ctx, muted)
}

// Status reports the machine's current state.
func (s *Station) Status(ctx context.Context) (call.Snapshot, error) {
	return s.machine.Status(ctx)
}

// States streams machine transitions. Slow readers miss events rather than
// blocking the machine.
func (s *Station) States() <-chan StateChange {
	return s.states
}

// Incoming streams ringing inbound calls for interactive endpoints.
func (s *Station) Incoming() <-chan call.IncomingCall {
	return s.incoming
}

// RecentCalls lists the local call log, newest first.
func (s *Station) RecentCalls(ctx context.Context, limit int) ([]*domain.CallSession, error) {
	return s.callLog.Recent(ctx, limit)
}

// WaitForEnd blocks until the given session reports ENDED or ctx expires.
func (s *Station) WaitForEnd(ctx context.Context, sessionID uuid.UUID) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change := <-s.states:
			if change.SessionID == sessionID && change.State == call.StateEnded {
				return nil
			}
		}
	}
}

// Close shuts the station down, ending any active call first.
func (s *Station) Close() {
	s.machine.Close()
	_ = s.callLog.Close()
	_ = s.redis.Close()
	s.log.Info("station offline")
}
