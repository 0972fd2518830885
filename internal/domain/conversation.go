package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation links a patient with a provider, optionally joined by an
// advocate. Calls and chat messages are scoped to a conversation.
type Conversation struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	Title          string      `json:"title"`
	MemberIDs      []uuid.UUID `json:"member_ids"`
	CreatedBy      uuid.UUID   `json:"created_by"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// HasMember reports whether userID belongs to the conversation.
func (c *Conversation) HasMember(userID uuid.UUID) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}
