package models

import "time"

const AdminSupportName = "Admin Support"

type Conversation struct {
	ID                  int64      `json:"id"`
	UserID              int64      `json:"user_id"`
	TrainerID           *int64     `json:"trainer_id"`
	IsAdminConversation bool       `json:"is_admin_conversation"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	LastMessageAt       *time.Time `json:"last_message_at"`
}

// ActivityAt is the timestamp conversation lists are ordered by.
func (c Conversation) ActivityAt() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.UpdatedAt
}

type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
	IsRead         bool      `json:"is_read"`
}

// UnreadFor reports whether the message is unread from viewerID's side.
func (m Message) UnreadFor(viewerID int64) bool {
	return m.SenderID != viewerID && !m.IsRead
}

// Before orders messages by sent_at, breaking ties by id.
func (m Message) Before(other Message) bool {
	if m.SentAt.Equal(other.SentAt) {
		return m.ID < other.ID
	}
	return m.SentAt.Before(other.SentAt)
}

type ConversationSummary struct {
	Conversation
	ParticipantName string   `json:"participant_name"`
	LastMessage     *Message `json:"last_message,omitempty"`
	UnreadCount     int      `json:"unread_count"`
}

// ConversationTarget selects the other side of a new conversation: admin
// support or one trainer.
type ConversationTarget struct {
	Admin     bool   `json:"admin"`
	TrainerID *int64 `json:"trainer_id"`
}

func AdminTarget() ConversationTarget {
	return ConversationTarget{Admin: true}
}

func TrainerTarget(trainerID int64) ConversationTarget {
	return ConversationTarget{TrainerID: &trainerID}
}
