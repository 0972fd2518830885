// Package call implements the call lifecycle state machine. One Machine
// instance handles one user's calling within one conversation: placing calls,
// ringing on inbound offers, the offer/answer/ICE exchange, and teardown.
//
// The machine owns no transport or storage of its own; it drives the
// collaborators below and assumes nothing about signal ordering, delivery,
// or duplication.
package call

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"carelink-backend/internal/domain"
)

// Sentinel errors returned by Machine operations.
var (
	ErrCallInProgress  = errors.New("a call is already in progress")
	ErrNoActiveCall    = errors.New("no active call")
	ErrNoIncomingCall  = errors.New("no matching incoming call")
	ErrAlreadyAnswered = errors.New("call already answered")
	ErrMachineClosed   = errors.New("call machine is closed")
)

// SignalChannel is the pub/sub transport for call signals. Publish is
// fan-out to every subscriber of the conversation, the sender included.
type SignalChannel interface {
	Publish(ctx context.Context, sig *domain.CallSignal) error
	Subscribe(ctx context.Context, conversationID uuid.UUID) (Subscription, error)
}

// Subscription is one live listener on a conversation's signals.
type Subscription interface {
	Signals() <-chan domain.CallSignal
	Unsubscribe()
}

// SessionStore persists call session records. All mutations are idempotent;
// the machine may race the remote party on End and must not care who wins.
type SessionStore interface {
	Create(ctx context.Context, sess *domain.CallSession) error
	MarkConnected(ctx context.Context, id uuid.UUID, at time.Time) error
	End(ctx context.Context, id uuid.UUID, at time.Time) error
	Get(ctx context.Context, id uuid.UUID) (*domain.CallSession, error)
}

// ChatHistory receives the system messages a call leaves in the conversation
// transcript. Failures are surfaced as notices, never as call errors.
type ChatHistory interface {
	AppendSystemMessage(ctx context.Context, conversationID uuid.UUID, body string) error
}

// State is the machine's lifecycle state. ENDED is reported through hooks
// when a call finishes; the machine itself then returns to IDLE, ready for
// the next call.
type State string

const (
	StateIdle      State = "IDLE"
	StateRinging   State = "RINGING"
	StateConnected State = "CONNECTED"
	StateEnded     State = "ENDED"
)

// Role is the machine's part in the active call.
type Role string

const (
	RoleCaller Role = "CALLER"
	RoleCallee Role = "CALLEE"
)

// IncomingCall describes a ringing inbound offer awaiting accept or decline.
type IncomingCall struct {
	SessionID      uuid.UUID
	ConversationID uuid.UUID
	CallerID       uuid.UUID
	CallerName     string
	SDP            string
	ReceivedAt     time.Time
}

// Hooks are optional callbacks into the embedding application. They are
// invoked from the machine's own goroutine and must return quickly.
type Hooks struct {
	OnStateChange          func(sessionID uuid.UUID, state State)
	OnIncomingCall         func(inc IncomingCall)
	OnIncomingCallCanceled func(sessionID uuid.UUID)

	// OnNotice reports non-fatal conditions worth showing to the user,
	// such as a publish failure on a best-effort signal.
	OnNotice func(msg string)
}

func (h Hooks) stateChange(sessionID uuid.UUID, state State) {
	if h.OnStateChange != nil {
		h.OnStateChange(sessionID, state)
	}
}

func (h Hooks) incomingCall(inc IncomingCall) {
	if h.OnIncomingCall != nil {
		h.OnIncomingCall(inc)
	}
}

func (h Hooks) incomingCanceled(sessionID uuid.UUID) {
	if h.OnIncomingCallCanceled != nil {
		h.OnIncomingCallCanceled(sessionID)
	}
}

func (h Hooks) notice(msg string) {
	if h.OnNotice != nil {
		h.OnNotice(msg)
	}
}
