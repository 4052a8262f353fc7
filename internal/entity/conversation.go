package entity

import "time"

// Conversation is the canonical record for one unordered user pair
type Conversation struct {
	ConversationId     int64     `json:"conversation_id"`
	User1Id            int64     `json:"user1_id"`
	User2Id            int64     `json:"user2_id"`
	CreatedAt          time.Time `json:"created_at"`
	LastMessageAt      time.Time `json:"last_message_at"`
	LastMessageContent *string   `json:"last_message_content"`
}

// HasParticipant reports whether userId is one side of the conversation
func (c *Conversation) HasParticipant(userId int64) bool {
	return c.User1Id == userId || c.User2Id == userId
}

// OtherParticipant returns the peer of userId
func (c *Conversation) OtherParticipant(userId int64) int64 {
	if c.User1Id == userId {
		return c.User2Id
	}
	return c.User1Id
}

// ConversationInfo is one entry of a user's conversation list
type ConversationInfo struct {
	*Conversation
	OtherUserId int64 `json:"other_user_id"`
}
