package models

import "time"

// User owns conversations. Its ID is the owner reference stored on every Conversation and the
// subject of issued tokens.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Owns reports whether conv belongs to u.
func (u User) Owns(conv Conversation) bool {
	return u.ID != "" && conv.OwnerID == u.ID
}

// Public returns a copy safe to hand to clients.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}
