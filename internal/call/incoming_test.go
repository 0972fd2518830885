package call

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIncomingSlotRingsOncePerSession(t *testing.T) {
	slot := newIncomingSlot()
	inc := IncomingCall{SessionID: uuid.New()}

	assert.True(t, slot.ring(inc))
	assert.False(t, slot.ring(inc), "same session must not re-ring")

	_, ok := slot.take(inc.SessionID)
	assert.True(t, ok)
	assert.False(t, slot.ring(inc), "a taken session must not re-ring either")
}

func TestIncomingSlotSingleOccupancy(t *testing.T) {
	slot := newIncomingSlot()
	first := IncomingCall{SessionID: uuid.New()}
	second := IncomingCall{SessionID: uuid.New()}

	assert.True(t, slot.ring(first))
	assert.False(t, slot.ring(second), "slot is busy")

	assert.True(t, slot.clear(first.SessionID))
	assert.True(t, slot.ring(second), "slot free again")
}

func TestIncomingSlotTakeMatchesSession(t *testing.T) {
	slot := newIncomingSlot()
	inc := IncomingCall{SessionID: uuid.New(), CallerName: "Dr. Reyes"}
	slot.ring(inc)

	_, ok := slot.take(uuid.New())
	assert.False(t, ok, "wrong session id")

	got, ok := slot.take(inc.SessionID)
	assert.True(t, ok)
	assert.Equal(t, "Dr. Reyes", got.CallerName)

	_, ok = slot.take(inc.SessionID)
	assert.False(t, ok, "slot already emptied")
}

func TestIncomingSlotClear(t *testing.T) {
	slot := newIncomingSlot()
	inc := IncomingCall{SessionID: uuid.New()}
	slot.ring(inc)

	assert.False(t, slot.clear(uuid.New()))
	assert.True(t, slot.clear(inc.SessionID))
	assert.False(t, slot.clear(inc.SessionID))

	_, ok := slot.peek()
	assert.False(t, ok)
}

func TestIncomingSlotHistoryBound(t *testing.T) {
	slot := newIncomingSlot()
	for i := 0; i < rungHistory; i++ {
		inc := IncomingCall{SessionID: uuid.New()}
		slot.ring(inc)
		slot.clear(inc.SessionID)
	}

	// History resets rather than growing without bound; a fresh session
	// still rings.
	assert.True(t, slot.ring(IncomingCall{SessionID: uuid.New()}))
	assert.LessOrEqual(t, len(slot.rung), rungHistory)
}
