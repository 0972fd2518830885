package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageType distinguishes user text from system entries and attachments.
type MessageType string

const (
	MessageTypeText       MessageType = "TEXT"
	MessageTypeSystem     MessageType = "SYSTEM" // call lifecycle entries, membership changes
	MessageTypeAttachment MessageType = "ATTACHMENT"
)

// SystemSenderID is the sender recorded on system messages.
var SystemSenderID = uuid.Nil

// Message is one chat entry in a conversation. Stored in Cassandra with a
// time bucket as part of the partition key.
type Message struct {
	MessageID      uuid.UUID         `json:"message_id"`
	ConversationID uuid.UUID         `json:"conversation_id"`
	Bucket         int               `json:"bucket"`
	SenderID       uuid.UUID         `json:"sender_id"`
	Type           MessageType       `json:"type"`
	Body           string            `json:"body"`
	Metadata       map[string]string `json:"metadata,omitempty"` // attachment URL, call session id, ...
	CreatedAt      time.Time         `json:"created_at"`
}

// CalculateBucket returns the monthly partition bucket for a timestamp
// (YYYYMM). Keeps Cassandra partitions bounded per conversation.
func CalculateBucket(t time.Time) int {
	return t.Year()*100 + int(t.Month())
}
