package entity

import (
	"time"

	"github.com/google/uuid"
)

// Message is immutable once written
type Message struct {
	MessageId      uuid.UUID `json:"id"`
	ConversationId int64     `json:"conversation_id"`
	SenderId       int64     `json:"sender_id"`
	ReceiverId     int64     `json:"receiver_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"created_at"`
}

// Participants returns sender and receiver
func (m *Message) Participants() []int64 {
	return []int64{m.SenderId, m.ReceiverId}
}

// PendingFanout is a message whose projection writes did not all land
type PendingFanout struct {
	Shard       int       `json:"shard"`
	Message     *Message  `json:"message"`
	FailedSteps string    `json:"failed_steps"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}
