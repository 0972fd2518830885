package call

import (
	"github.com/google/uuid"
)

// rungHistory bounds the remembered session ids. Old entries only matter for
// duplicate OFFER suppression, so dropping the history wholesale is safe.
const rungHistory = 256

// incomingSlot holds at most one ringing inbound call and remembers which
// sessions have already rung so a re-delivered OFFER never re-rings. It is
// only touched from the machine goroutine and needs no locking.
type incomingSlot struct {
	current *IncomingCall
	rung    map[uuid.UUID]struct{}
}

func newIncomingSlot() *incomingSlot {
	return &incomingSlot{rung: make(map[uuid.UUID]struct{})}
}

// ring offers an inbound call to the slot. Returns false when the slot is
// occupied or the session already rang; the offer is then ignored.
func (s *incomingSlot) ring(inc IncomingCall) bool {
	if _, seen := s.rung[inc.SessionID]; seen {
		return false
	}
	if s.current != nil {
		return false
	}
	if len(s.rung) >= rungHistory {
		s.rung = make(map[uuid.UUID]struct{})
	}
	s.rung[inc.SessionID] = struct{}{}
	cp := inc
	s.current = &cp
	return true
}

// take removes and returns the ringing call when its session id matches.
func (s *incomingSlot) take(sessionID uuid.UUID) (IncomingCall, bool) {
	if s.current == nil || s.current.SessionID != sessionID {
		return IncomingCall{}, false
	}
	inc := *s.current
	s.current = nil
	return inc, true
}

// clear drops the ringing call when its session id matches. Returns whether
// anything was cleared.
func (s *incomingSlot) clear(sessionID uuid.UUID) bool {
	if s.current == nil || s.current.SessionID != sessionID {
		return false
	}
	s.current = nil
	return true
}

// peek returns the ringing call without removing it.
func (s *incomingSlot) peek() (IncomingCall, bool) {
	if s.current == nil {
		return IncomingCall{}, false
	}
	return *s.current, true
}
