// Package store defines the conversation store gateway and its failure taxonomy.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wuwenbin0122/modelchat/internal/models"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrInvalidMessage = errors.New("store: invalid message")
)

// Error is the tagged failure every gateway returns. Backend errors never cross the gateway
// boundary unwrapped.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "store: " + e.Op + " failed"
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with op. A nil err stays nil and an existing *Error is not wrapped twice.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsStoreError reports whether err carries a gateway failure.
func IsStoreError(err error) bool {
	var storeErr *Error
	return errors.As(err, &storeErr)
}

// NewMessage describes a message to append. ModelID must be empty unless Role is assistant.
type NewMessage struct {
	ConversationID string
	Role           models.Role
	Content        string
	ModelID        string
}

// Validate checks the append invariants shared by every gateway.
func (m NewMessage) Validate() error {
	if strings.TrimSpace(m.ConversationID) == "" {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidMessage)
	}
	if !m.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	}
	if m.ModelID != "" && m.Role != models.RoleAssistant {
		return fmt.Errorf("%w: model id is only allowed on assistant messages", ErrInvalidMessage)
	}
	return nil
}

// Gateway is the accessor over conversations and messages. Every operation is single-shot.
type Gateway interface {
	CreateConversation(ctx context.Context, ownerID, title string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) (*models.Conversation, error)
	TouchConversation(ctx context.Context, id string) error
	DeleteConversation(ctx context.Context, id string) error
	// ListConversations returns the owner's conversations, most recently updated first.
	ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error)

	AppendMessage(ctx context.Context, msg NewMessage) (*models.Message, error)
	// ListMessages returns messages oldest first. A positive limit keeps only the most recent
	// limit messages.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// NormalizeTitle substitutes the default for blank input. Other titles are stored verbatim.
func NormalizeTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return models.DefaultConversationTitle
	}
	return title
}
