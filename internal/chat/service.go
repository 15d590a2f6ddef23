// Package chat runs one user exchange: persist, assemble context, route, generate, persist, retitle.
package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/modelchat/internal/catalog"
	"github.com/wuwenbin0122/modelchat/internal/generation"
	"github.com/wuwenbin0122/modelchat/internal/lock"
	"github.com/wuwenbin0122/modelchat/internal/models"
	"github.com/wuwenbin0122/modelchat/internal/selector"
	"github.com/wuwenbin0122/modelchat/internal/store"
	"github.com/wuwenbin0122/modelchat/internal/usage"
	"github.com/wuwenbin0122/modelchat/internal/utils"
)

const defaultHistoryLimit = 50

// Generator produces one assistant reply.
type Generator interface {
	Generate(ctx context.Context, history []generation.Message, model catalog.ModelID) (*generation.Response, error)
}

// UsageRecorder stores token counters for an assistant message.
type UsageRecorder interface {
	Record(ctx context.Context, entry usage.Entry) (*usage.Record, error)
}

// Deps are the collaborators of a Service. Store and Generator are required.
type Deps struct {
	Store     store.Gateway
	Generator Generator
	Catalog   *catalog.Catalog
	Locker    lock.Locker
	Usage     UsageRecorder
	Logger    *zap.Logger
}

type Options struct {
	SystemPrompt string
	HistoryLimit int
	TitleLength  int
}

// Result is the outcome of GenerateResponse. Failures carry a user-facing Error and the
// stage that failed; Cause keeps the underlying error for status mapping and is never serialised.
type Result struct {
	Success          bool               `json:"success"`
	UserMessage      *models.Message    `json:"userMessage,omitempty"`
	AssistantMessage *models.Message    `json:"assistantMessage,omitempty"`
	ModelUsed        catalog.ModelID    `json:"modelUsed,omitempty"`
	ModelInfo        *catalog.ModelInfo `json:"model,omitempty"`
	Usage            *generation.Usage  `json:"usage,omitempty"`
	Error            string             `json:"error,omitempty"`
	FailedStage      Stage              `json:"-"`
	Cause            error              `json:"-"`
}

type Service struct {
	store     store.Gateway
	generator Generator
	catalog   *catalog.Catalog
	locker    lock.Locker
	usage     UsageRecorder
	logger    *zap.Logger

	systemPrompt string
	historyLimit int
	titleLength  int
}

func NewService(deps Deps, opts Options) *Service {
	s := &Service{
		store:        deps.Store,
		generator:    deps.Generator,
		catalog:      deps.Catalog,
		locker:       deps.Locker,
		usage:        deps.Usage,
		logger:       deps.Logger,
		systemPrompt: strings.TrimSpace(opts.SystemPrompt),
		historyLimit: opts.HistoryLimit,
		titleLength:  opts.TitleLength,
	}

	if s.catalog == nil {
		s.catalog = catalog.Default()
	}
	if s.locker == nil {
		s.locker = lock.NewKeyedMutex()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.systemPrompt == "" {
		s.systemPrompt = utils.DefaultSystemPrompt
	}
	if s.historyLimit <= 0 {
		s.historyLimit = defaultHistoryLimit
	}
	// a smaller window would hide earlier exchanges from the retitle check
	if s.historyLimit < utils.MinHistoryLimit {
		s.historyLimit = utils.MinHistoryLimit
	}
	if s.titleLength <= 0 {
		s.titleLength = defaultTitleLength
	}

	return s
}

// GenerateResponse runs one exchange for conversationID. It never returns an error value; every
// failure is reported through Result. A persisted user message is kept even if a later stage fails.
func (s *Service) GenerateResponse(ctx context.Context, conversationID, userText string) Result {
	logger := s.logger.With(zap.String("conversation_id", conversationID))

	if strings.TrimSpace(userText) == "" {
		return Result{Error: ReasonMessageRequired, FailedStage: StageValidate}
	}

	unlock, err := s.locker.Lock(ctx, conversationID)
	if err != nil {
		logger.Warn("conversation lock unavailable", zap.Error(err))
		return Result{Error: ReasonConversationBusy, FailedStage: StageAcquireLock, Cause: err}
	}
	defer unlock()

	userMsg, err := s.store.AppendMessage(ctx, store.NewMessage{
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        userText,
	})
	if err != nil {
		return s.fail(logger, StagePersistUser, ReasonSaveUserMessage, err, nil)
	}

	// Once the user message is stored the exchange runs to completion; the generation
	// timeout still bounds it.
	ctx = context.WithoutCancel(ctx)

	history, err := s.store.ListMessages(ctx, conversationID, s.historyLimit)
	if err != nil {
		return s.fail(logger, StageFetchHistory, ReasonLoadHistory, err, userMsg)
	}

	model := selector.Select(userText)
	info, err := s.catalog.Lookup(model)
	if err != nil {
		// the selector only returns catalog ids
		logger.DPanic("selected model missing from catalog", zap.String("model", string(model)), zap.Error(err))
	}
	logger.Debug("model selected", zap.String("model", string(model)))

	resp, err := s.generator.Generate(ctx, s.buildPrompt(history), model)
	if err != nil {
		return s.fail(logger.With(zap.String("model", string(model))), StageGenerate, ReasonGenerateResponse, err, userMsg)
	}

	assistantMsg, err := s.store.AppendMessage(ctx, store.NewMessage{
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        resp.Content,
		ModelID:        string(model),
	})
	if err != nil {
		return s.fail(logger.With(zap.String("model", string(model))), StagePersistAssistant, ReasonSaveAssistantMessage, err, userMsg)
	}

	s.recordUsage(ctx, logger, conversationID, assistantMsg.ID, info, resp.Usage)
	s.maybeRetitle(ctx, logger, conversationID, history)

	result := Result{
		Success:          true,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		ModelUsed:        model,
		Usage:            resp.Usage,
		FailedStage:      StageDone,
	}
	if info.ID != "" {
		result.ModelInfo = &info
	}
	return result
}

// buildPrompt converts history to provider messages, prepending the system instruction when
// the history carries none. The instruction is never persisted.
func (s *Service) buildPrompt(history []models.Message) []generation.Message {
	prompt := make([]generation.Message, 0, len(history)+1)

	hasSystem := false
	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			hasSystem = true
			break
		}
	}
	if !hasSystem {
		prompt = append(prompt, generation.Message{Role: models.RoleSystem, Content: s.systemPrompt})
	}

	for _, msg := range history {
		prompt = append(prompt, generation.Message{Role: msg.Role, Content: msg.Content})
	}
	return prompt
}

// maybeRetitle names the conversation after its first exchange and touches it on every
// exchange. Failures are logged only.
func (s *Service) maybeRetitle(ctx context.Context, logger *zap.Logger, conversationID string, history []models.Message) {
	if len(history) <= 2 {
		if first, ok := firstUserMessage(history); ok {
			if title := DeriveTitle(first.Content, s.titleLength); title != "" {
				if _, err := s.store.UpdateConversationTitle(ctx, conversationID, title); err != nil {
					logger.Warn("update conversation title failed", zap.String("stage", StageMaybeRetitle.String()), zap.Error(err))
				}
			}
		}
	}

	if err := s.store.TouchConversation(ctx, conversationID); err != nil {
		logger.Warn("touch conversation failed", zap.String("stage", StageMaybeRetitle.String()), zap.Error(err))
	}
}

func (s *Service) recordUsage(ctx context.Context, logger *zap.Logger, conversationID, messageID string, info catalog.ModelInfo, counters *generation.Usage) {
	if s.usage == nil || counters == nil {
		return
	}

	_, err := s.usage.Record(ctx, usage.Entry{
		ConversationID:   conversationID,
		MessageID:        messageID,
		Model:            info,
		PromptTokens:     counters.PromptTokens,
		CompletionTokens: counters.CompletionTokens,
		TotalTokens:      counters.TotalTokens,
	})
	if err != nil {
		logger.Warn("record usage failed", zap.String("message_id", messageID), zap.Error(err))
	}
}

func (s *Service) fail(logger *zap.Logger, stage Stage, reason string, err error, userMsg *models.Message) Result {
	logger.Error("generate response failed",
		zap.String("stage", stage.String()),
		zap.Error(err),
	)
	return Result{
		Success:     false,
		UserMessage: userMsg,
		Error:       reason,
		FailedStage: stage,
		Cause:       err,
	}
}
