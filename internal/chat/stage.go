package chat

// Stage names a step of one GenerateResponse invocation.
type Stage int

const (
	StageValidate Stage = iota
	StageAcquireLock
	StagePersistUser
	StageFetchHistory
	StageSelectModel
	StageGenerate
	StagePersistAssistant
	StageMaybeRetitle
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageValidate:
		return "validate"
	case StageAcquireLock:
		return "acquire_lock"
	case StagePersistUser:
		return "persist_user"
	case StageFetchHistory:
		return "fetch_history"
	case StageSelectModel:
		return "select_model"
	case StageGenerate:
		return "generate"
	case StagePersistAssistant:
		return "persist_assistant"
	case StageMaybeRetitle:
		return "maybe_retitle"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// User-facing failure reasons.
const (
	ReasonMessageRequired      = "Message content is required"
	ReasonConversationBusy     = "Conversation is busy"
	ReasonSaveUserMessage      = "Failed to save user message"
	ReasonLoadHistory          = "Failed to load conversation history"
	ReasonGenerateResponse     = "Failed to generate response"
	ReasonSaveAssistantMessage = "Failed to save assistant message"
)
