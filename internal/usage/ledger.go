// Package usage keeps a ledger of provider token usage per assistant message.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wuwenbin0122/modelchat/internal/catalog"
)

// Record is one ledger row. MessageID is the assistant message the tokens were spent on.
type Record struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	ConversationID   string    `gorm:"index;size:64;not null" json:"conversationId"`
	MessageID        string    `gorm:"uniqueIndex;size:64;not null" json:"messageId"`
	ModelID          string    `gorm:"size:32;not null" json:"modelId"`
	CostTier         string    `gorm:"size:16;not null" json:"costTier"`
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	TotalTokens      int       `json:"totalTokens"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (Record) TableName() string {
	return "usage_records"
}

// Totals aggregates the ledger for one model.
type Totals struct {
	ModelID          string `json:"modelId"`
	CostTier         string `json:"costTier"`
	Requests         int64  `json:"requests"`
	PromptTokens     int64  `json:"promptTokens"`
	CompletionTokens int64  `json:"completionTokens"`
	TotalTokens      int64  `json:"totalTokens"`
}

type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates or updates the usage table.
func (l *Ledger) Migrate(ctx context.Context) error {
	if err := l.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("usage: migrate: %w", err)
	}
	return nil
}

// Entry is what the orchestrator knows after a successful exchange.
type Entry struct {
	ConversationID   string
	MessageID        string
	Model            catalog.ModelInfo
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func (l *Ledger) Record(ctx context.Context, entry Entry) (*Record, error) {
	total := entry.TotalTokens
	if total == 0 {
		total = entry.PromptTokens + entry.CompletionTokens
	}

	rec := &Record{
		ID:               uuid.NewString(),
		ConversationID:   entry.ConversationID,
		MessageID:        entry.MessageID,
		ModelID:          string(entry.Model.ID),
		CostTier:         string(entry.Model.CostTier),
		PromptTokens:     entry.PromptTokens,
		CompletionTokens: entry.CompletionTokens,
		TotalTokens:      total,
		CreatedAt:        l.now(),
	}

	if err := l.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("usage: record: %w", err)
	}
	return rec, nil
}

// TotalsByModel sums the conversation's usage per model, ordered by model id.
func (l *Ledger) TotalsByModel(ctx context.Context, conversationID string) ([]Totals, error) {
	totals := make([]Totals, 0)
	err := l.db.WithContext(ctx).
		Model(&Record{}).
		Select("model_id, cost_tier, COUNT(*) AS requests, " +
			"SUM(prompt_tokens) AS prompt_tokens, SUM(completion_tokens) AS completion_tokens, SUM(total_tokens) AS total_tokens").
		Where("conversation_id = ?", conversationID).
		Group("model_id, cost_tier").
		Order("model_id").
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("usage: totals: %w", err)
	}
	return totals, nil
}

// DeleteConversation drops the ledger rows of a deleted conversation.
func (l *Ledger) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := l.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("usage: delete conversation: %w", err)
	}
	return nil
}

func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
