package call

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carelink-backend/internal/domain"
	"carelink-backend/internal/media"
)

// Signal payloads travel as JSON-encoded strings inside the signal envelope.
// Decoders are strict about shape but lenient about extra fields, since
// client generations disagree on what they attach.

func encodeOffer(desc media.Description, callerID uuid.UUID, callerName string) (string, error) {
	data, err := json.Marshal(domain.OfferPayload{
		Type:       desc.Type,
		SDP:        desc.SDP,
		CallerID:   callerID,
		CallerName: callerName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode offer payload: %w", err)
	}
	return string(data), nil
}

func decodeOffer(payload string) (domain.OfferPayload, error) {
	var p domain.OfferPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return p, fmt.Errorf("failed to decode offer payload: %w", err)
	}
	if p.SDP == "" {
		return p, fmt.Errorf("offer payload has no sdp")
	}
	return p, nil
}

func encodeAnswer(desc media.Description) (string, error) {
	data, err := json.Marshal(domain.AnswerPayload{Type: desc.Type, SDP: desc.SDP})
	if err != nil {
		return "", fmt.Errorf("failed to encode answer payload: %w", err)
	}
	return string(data), nil
}

func decodeAnswer(payload string) (domain.AnswerPayload, error) {
	var p domain.AnswerPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return p, fmt.Errorf("failed to decode answer payload: %w", err)
	}
	if p.SDP == "" {
		return p, fmt.Errorf("answer payload has no sdp")
	}
	return p, nil
}

func encodeICE(cand domain.ICECandidate) (string, error) {
	data, err := json.Marshal(domain.ICEPayload{Candidate: cand})
	if err != nil {
		return "", fmt.Errorf("failed to encode ice payload: %w", err)
	}
	return string(data), nil
}

func decodeICE(payload string) (domain.ICEPayload, error) {
	var p domain.ICEPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return p, fmt.Errorf("failed to decode ice payload: %w", err)
	}
	if p.Candidate.Candidate == "" {
		return p, fmt.Errorf("ice payload has no candidate")
	}
	return p, nil
}

func encodeTerminal(reason string, at time.Time) string {
	data, _ := json.Marshal(domain.TerminalPayload{Reason: reason, At: at.UnixMilli()})
	return string(data)
}

// decodeTerminal never fails; terminal signals act on type alone and the
// payload only annotates them.
func decodeTerminal(payload string) domain.TerminalPayload {
	var p domain.TerminalPayload
	_ = json.Unmarshal([]byte(payload), &p)
	return p
}
