// Package pion implements media.Engine on pion/webrtc. Local capture uses
// pion/mediadevices where the platform supports it (see capture_linux.go);
// elsewhere sessions are receive-only.
package pion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"carelink-backend/internal/domain"
	"carelink-backend/internal/media"
	"carelink-backend/pkg/logger"
)

// eventBuffer bounds undrained session events. The call core drains promptly;
// overflow means it is gone and events may be dropped.
const eventBuffer = 32

// Config holds ICE configuration for new sessions.
type Config struct {
	STUNURLs []string

	// ICE timeouts. The default disconnected timeout is too aggressive for
	// mobile networks that blip during handover; thirty seconds lets ICE
	// recover without tearing the call down.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

// DefaultConfig returns the config used when none is provided.
func DefaultConfig() Config {
	return Config{
		STUNURLs:            []string{"stun:stun.l.google.com:19302"},
		DisconnectedTimeout: 30 * time.Second,
		FailedTimeout:       120 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

// Engine creates pion-backed media sessions.
type Engine struct {
	cfg Config
	log *zap.Logger
}

// NewEngine creates an Engine with the given config.
func NewEngine(cfg Config) *Engine {
	if len(cfg.STUNURLs) == 0 {
		cfg.STUNURLs = DefaultConfig().STUNURLs
	}
	if cfg.DisconnectedTimeout == 0 {
		cfg.DisconnectedTimeout = DefaultConfig().DisconnectedTimeout
	}
	if cfg.FailedTimeout == 0 {
		cfg.FailedTimeout = DefaultConfig().FailedTimeout
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = DefaultConfig().KeepAliveInterval
	}
	return &Engine{cfg: cfg, log: logger.Named("media")}
}

// localMedia holds the local capture tracks and their senders, when capture
// succeeded. All fields nil for receive-only sessions.
type localMedia struct {
	closeFn     func()
	audioTrack  webrtc.TrackLocal
	videoTrack  webrtc.TrackLocal
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
}

type session struct {
	pc     *webrtc.PeerConnection
	local  *localMedia
	events chan media.Event
	log    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewSession creates a peer connection, captures local media when the
// platform allows it, and wires the event stream.
func (e *Engine) NewSession(ctx context.Context) (media.Session, error) {
	pc, local, err := newPeerConnection(e.cfg, e.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	s := &session{
		pc:     pc,
		local:  local,
		events: make(chan media.Event, eventBuffer),
		log:    e.log,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		s.emit(media.Event{
			Kind: media.EventICECandidate,
			Candidate: domain.ICECandidate{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			},
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		mapped, ok := mapConnState(state)
		if !ok {
			return
		}
		s.emit(media.Event{Kind: media.EventConnectionState, State: mapped})
		if mapped == media.ConnStateClosed {
			s.closeEvents()
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.emit(media.Event{Kind: media.EventRemoteTrack, TrackKind: track.Kind().String()})
		go drainTrack(track)
	})

	return s, nil
}

func mapConnState(state webrtc.PeerConnectionState) (media.ConnState, bool) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		return media.ConnStateConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return media.ConnStateDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return media.ConnStateFailed, true
	case webrtc.PeerConnectionStateClosed:
		return media.ConnStateClosed, true
	default:
		return "", false
	}
}

// drainTrack keeps the remote track's RTP flowing. Rendering is up to the
// embedding application; the engine only keeps the receiver alive.
func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func (s *session) emit(ev media.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn("dropping media event, consumer too slow", zap.String("kind", string(ev.Kind)))
	}
}

func (s *session) closeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (s *session) CreateOffer(ctx context.Context) (media.Description, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return media.Description{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return media.Description{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return media.Description{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (s *session) CreateAnswer(ctx context.Context) (media.Description, error) {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return media.Description{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return media.Description{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return media.Description{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (s *session) SetRemoteDescription(ctx context.Context, desc media.Description) error {
	sd := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	}
	if err := s.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (s *session) AddICECandidate(cand domain.ICECandidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("failed to add ice candidate: %w", err)
	}
	return nil
}

// SetAudioEnabled mutes or unmutes the local microphone by detaching the
// track from its sender. RTP stops flowing but the m-line stays negotiated.
func (s *session) SetAudioEnabled(enabled bool) error {
	if s.local == nil || s.local.audioSender == nil {
		return media.ErrNoLocalTrack
	}
	if enabled {
		return s.local.audioSender.ReplaceTrack(s.local.audioTrack)
	}
	return s.local.audioSender.ReplaceTrack(nil)
}

// SetVideoEnabled disables or enables the local camera track.
func (s *session) SetVideoEnabled(enabled bool) error {
	if s.local == nil || s.local.videoSender == nil {
		return media.ErrNoLocalTrack
	}
	if enabled {
		return s.local.videoSender.ReplaceTrack(s.local.videoTrack)
	}
	return s.local.videoSender.ReplaceTrack(nil)
}

func (s *session) Events() <-chan media.Event {
	return s.events
}

func (s *session) Close() error {
	if s.local != nil && s.local.closeFn != nil {
		s.local.closeFn()
	}
	err := s.pc.Close()
	s.closeEvents()
	return err
}
