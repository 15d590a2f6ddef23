package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wuwenbin0122/modelchat/internal/models"
)

// MemoryStore is a process-local Gateway.
type MemoryStore struct {
	mu            sync.RWMutex
	now           func() time.Time
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
}

var _ Gateway = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryStoreWithClock lets tests control timestamps.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:           now,
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
	}
}

func (s *MemoryStore) CreateConversation(ctx context.Context, ownerID, title string) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("create conversation", err)
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, Wrap("create conversation", fmt.Errorf("owner id is required"))
	}

	now := s.now()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     NormalizeTitle(title),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("get conversation", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, Wrap("get conversation", ErrNotFound)
	}
	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) UpdateConversationTitle(ctx context.Context, id, title string) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("update conversation title", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, Wrap("update conversation title", ErrNotFound)
	}
	conv.Title = NormalizeTitle(title)
	conv.UpdatedAt = s.laterThan(conv.UpdatedAt)

	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) TouchConversation(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return Wrap("touch conversation", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return Wrap("touch conversation", ErrNotFound)
	}
	conv.UpdatedAt = s.laterThan(conv.UpdatedAt)
	return nil
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return Wrap("delete conversation", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return Wrap("delete conversation", ErrNotFound)
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("list conversations", err)
	}

	s.mu.RLock()
	result := make([]models.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.OwnerID == ownerID {
			result = append(result, *conv)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg NewMessage) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("append message", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, Wrap("append message", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return nil, Wrap("append message", ErrNotFound)
	}

	existing := s.messages[msg.ConversationID]
	createdAt := s.now()
	if n := len(existing); n > 0 {
		createdAt = s.laterThan(existing[n-1].CreatedAt)
	}

	stored := models.Message{
		ID:             uuid.NewString(),
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		ModelID:        msg.ModelID,
		CreatedAt:      createdAt,
	}
	s.messages[msg.ConversationID] = append(existing, stored)

	copied := stored
	return &copied, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("list messages", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, Wrap("list messages", ErrNotFound)
	}

	all := s.messages[conversationID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}
	return append([]models.Message(nil), all[start:]...), nil
}

// laterThan returns now, nudged forward so that it is strictly after prev. Callers hold s.mu.
func (s *MemoryStore) laterThan(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}
