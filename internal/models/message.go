package models

import "time"

// Message is one persisted turn of a conversation. ModelID is only set on assistant messages.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	ModelID        string    `json:"modelId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
