package models

import "time"

// Conversation is a private conversation between exactly two users. The pair
// is stored sorted so that User1ID < User2ID.
type Conversation struct {
	ID            string     `db:"id" json:"id"`
	User1ID       string     `db:"user1_id" json:"user1Id"`
	User2ID       string     `db:"user2_id" json:"user2Id"`
	LastMessageID *string    `db:"last_message_id" json:"lastMessageId"`
	LastMessageAt *time.Time `db:"last_message_at" json:"lastMessageAt"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`

	// UnreadCount holds one entry per participant.
	UnreadCount map[string]int `db:"-" json:"unreadCount"`
}

// Participants returns both participant ids.
func (c Conversation) Participants() []string {
	return []string{c.User1ID, c.User2ID}
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.User1ID == userID || c.User2ID == userID)
}

// OtherParticipant returns the participant that is not userID.
func (c Conversation) OtherParticipant(userID string) string {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// ConversationSummary provides a per-user view of a conversation.
type ConversationSummary struct {
	ConversationID string
	PartnerID      string
	LastMessage    *Message
	UnreadCount    int
}

// SortedPair orders two participant ids.
func SortedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
