package model

import "time"

// Conversation roles as stored. The model API uses "assistant" for RoleAI.
const (
	RoleUser = "user"
	RoleAI   = "AI"
)

// Chat groups conversation turns under a model-generated title.
// UserID stays nil until an authenticated user claims the chat and never changes afterwards.
type Chat struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" bson:"_id" json:"id"`
	Title     string    `gorm:"type:varchar(255);not null" bson:"title" json:"title"`
	UserID    *string   `gorm:"type:varchar(36);index" bson:"user_id" json:"userId"`
	CreatedAt time.Time `gorm:"index" bson:"created_at" json:"createdAt"`
}

func (Chat) TableName() string {
	return "chats"
}

// OwnedByOther reports whether the chat has an owner other than userID.
func (c *Chat) OwnedByOther(userID string) bool {
	return c.UserID != nil && *c.UserID != userID
}

// Conversation is a single turn of a chat.
type Conversation struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" bson:"_id" json:"id"`
	ChatID    string    `gorm:"type:varchar(36);not null;index:idx_chat_created,priority:1" bson:"chat_id" json:"chatId"`
	Role      string    `gorm:"type:varchar(16);not null" bson:"role" json:"role"`
	Message   string    `gorm:"type:text;not null" bson:"message" json:"message"`
	CreatedAt time.Time `gorm:"index:idx_chat_created,priority:2" bson:"created_at" json:"createdAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ChatWithConversations is a chat together with its turns in chronological order.
type ChatWithConversations struct {
	Chat
	Conversations []Conversation
}
