package models

import "time"

// DefaultConversationTitle is used when a conversation is started without a title.
const DefaultConversationTitle = "New Chat"

// Conversation is a titled thread of messages owned by one user.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
