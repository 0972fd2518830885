// Package media abstracts the peer connection used for call audio and video.
// The call core drives it through these interfaces and never touches WebRTC
// types directly, so tests can substitute a scripted engine.
package media

import (
	"context"
	"errors"

	"carelink-backend/internal/domain"
)

// ErrNoLocalTrack is returned by the mute toggles when no local capture of
// that kind exists (receive-only sessions).
var ErrNoLocalTrack = errors.New("no local track of that kind")

// Description is an SDP offer or answer.
type Description struct {
	Type string // "offer" or "answer"
	SDP  string
}

// ConnState is the coarse peer connection state the call core reacts to.
type ConnState string

const (
	ConnStateConnected    ConnState = "connected"
	ConnStateDisconnected ConnState = "disconnected"
	ConnStateFailed       ConnState = "failed"
	ConnStateClosed       ConnState = "closed"
)

// EventKind discriminates Event.
type EventKind string

const (
	EventICECandidate    EventKind = "ice_candidate"
	EventConnectionState EventKind = "connection_state"
	EventRemoteTrack     EventKind = "remote_track"
)

// Event is one asynchronous occurrence on a media session: a locally gathered
// ICE candidate to relay, a connection state change, or a remote track.
type Event struct {
	Kind      EventKind
	Candidate domain.ICECandidate // EventICECandidate
	State     ConnState           // EventConnectionState
	TrackKind string              // EventRemoteTrack: "audio" or "video"
}

// Session is one live peer connection.
type Session interface {
	// CreateOffer produces the local offer and sets it as the local
	// description. Candidates trickle through Events afterwards.
	CreateOffer(ctx context.Context) (Description, error)

	// CreateAnswer produces the local answer to a previously set remote
	// offer and sets it as the local description.
	CreateAnswer(ctx context.Context) (Description, error)

	// SetRemoteDescription applies the remote offer or answer.
	SetRemoteDescription(ctx context.Context, desc Description) error

	// AddICECandidate applies one remote candidate. Must only be called
	// after SetRemoteDescription; the call core queues earlier arrivals.
	AddICECandidate(cand domain.ICECandidate) error

	// SetAudioEnabled and SetVideoEnabled toggle the local capture tracks.
	SetAudioEnabled(enabled bool) error
	SetVideoEnabled(enabled bool) error

	// Events streams session events. Closed by Close.
	Events() <-chan Event

	Close() error
}

// Engine creates media sessions.
type Engine interface {
	NewSession(ctx context.Context) (Session, error)
}
