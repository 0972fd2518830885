package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a call session. Transitions are
// monotonic: RINGING → CONNECTED → ENDED, or RINGING → ENDED directly.
type CallStatus string

const (
	CallStatusRinging   CallStatus = "RINGING"
	CallStatusConnected CallStatus = "CONNECTED"
	CallStatusEnded     CallStatus = "ENDED"
)

// CallSession is the persisted record of one call attempt between two
// participants within a conversation. Never deleted; once ENDED it is an
// immutable audit record consumed by the chat history.
type CallSession struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	ParticipantIDs []uuid.UUID `json:"participant_ids"`
	CreatedBy      uuid.UUID   `json:"created_by"`
	Status         CallStatus  `json:"status"`
	StartedAt      *time.Time  `json:"started_at,omitempty"` // set once, on first connected event
	EndedAt        *time.Time  `json:"ended_at,omitempty"`   // set once, on transition to ENDED
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// SignalType identifies one control-plane event in the offer/answer/ICE
// exchange. The set is canonical; synonyms from older clients are collapsed
// by ParseSignalType.
type SignalType string

const (
	SignalOffer    SignalType = "OFFER"
	SignalAnswer   SignalType = "ANSWER"
	SignalICE      SignalType = "ICE"
	SignalDeclined SignalType = "DECLINED"
	SignalBye      SignalType = "BYE"
	SignalCancel   SignalType = "CANCEL"
)

// signalSynonyms maps legacy wire values emitted by older client iterations
// onto the canonical set.
var signalSynonyms = map[string]SignalType{
	"OFFER":         SignalOffer,
	"ANSWER":        SignalAnswer,
	"ICE":           SignalICE,
	"ICE_CANDIDATE": SignalICE,
	"DECLINED":      SignalDeclined,
	"DECLINE":       SignalDeclined,
	"BYE":           SignalBye,
	"ENDED":         SignalBye,
	"CANCEL":        SignalCancel,
	"TIMEOUT":       SignalCancel,
	"CALL_CANCELED": SignalCancel,
}

// ParseSignalType resolves a wire value to its canonical SignalType.
// The second return is false for unknown types; such signals are dropped.
func ParseSignalType(s string) (SignalType, bool) {
	t, ok := signalSynonyms[s]
	return t, ok
}

// IsTerminal reports whether the signal type ends a call.
func (t SignalType) IsTerminal() bool {
	return t == SignalDeclined || t == SignalBye || t == SignalCancel
}

// CallSignal is one control-plane event. Append-only and immutable; ordered
// only by sender-local creation time. The protocol assumes no cross-party
// ordering and tolerates duplicates.
type CallSignal struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	CallSessionID  uuid.UUID  `json:"call_session_id"`
	SenderID       uuid.UUID  `json:"sender_id"`
	Type           SignalType `json:"type"`
	Payload        string     `json:"payload"` // JSON-encoded, meaning depends on Type
	CreatedAt      time.Time  `json:"created_at"`
}

// OfferPayload is the payload of an OFFER signal: the SDP offer plus caller
// metadata used to render the incoming-call prompt.
type OfferPayload struct {
	Type       string    `json:"type"` // "offer"
	SDP        string    `json:"sdp"`
	CallerID   uuid.UUID `json:"callerId"`
	CallerName string    `json:"callerName"`
}

// AnswerPayload is the payload of an ANSWER signal.
type AnswerPayload struct {
	Type string `json:"type"` // "answer"
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors the WebRTC ICE candidate init structure.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// ICEPayload is the payload of an ICE signal.
type ICEPayload struct {
	Candidate ICECandidate `json:"candidate"`
}

// Terminal reasons carried in TerminalPayload.
const (
	ReasonEnded    = "ended"
	ReasonDeclined = "declined"
	ReasonMissed   = "missed"
	ReasonCanceled = "canceled"
)

// TerminalPayload is the payload of DECLINED, BYE and CANCEL signals.
type TerminalPayload struct {
	Reason string `json:"reason"`
	At     int64  `json:"at"` // epoch millis
}
