package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/modelchat/internal/catalog"
	"github.com/wuwenbin0122/modelchat/internal/generation"
	"github.com/wuwenbin0122/modelchat/internal/models"
	"github.com/wuwenbin0122/modelchat/internal/selector"
	"github.com/wuwenbin0122/modelchat/internal/store"
	"github.com/wuwenbin0122/modelchat/internal/usage"
)

type fakeGenerator struct {
	mu      sync.Mutex
	calls   [][]generation.Message
	models  []catalog.ModelID
	reply   string
	usage   *generation.Usage
	err     error
	onCall  func(ctx context.Context)
	active  int32
	maxSeen int32
}

func (f *fakeGenerator) Generate(ctx context.Context, history []generation.Message, model catalog.ModelID) (*generation.Response, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}

	if f.onCall != nil {
		f.onCall(ctx)
	}

	f.mu.Lock()
	f.calls = append(f.calls, append([]generation.Message(nil), history...))
	f.models = append(f.models, model)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	reply := f.reply
	if reply == "" {
		reply = "Hi! How can I help?"
	}
	return &generation.Response{Content: reply, Model: string(model), Usage: f.usage, FinishReason: "stop"}, nil
}

func (f *fakeGenerator) lastCall(t *testing.T) []generation.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatalf("generator was not called")
	}
	return f.calls[len(f.calls)-1]
}

// flakyStore injects failures into selected gateway operations.
type flakyStore struct {
	store.Gateway
	failAppendRole models.Role
	failList       bool
	failTouch      bool
	failTitle      bool
}

var errBackend = errors.New("backend down")

func (f *flakyStore) AppendMessage(ctx context.Context, msg store.NewMessage) (*models.Message, error) {
	if f.failAppendRole != "" && msg.Role == f.failAppendRole {
		return nil, store.Wrap("append message", errBackend)
	}
	return f.Gateway.AppendMessage(ctx, msg)
}

func (f *flakyStore) ListMessages(ctx context.Context, id string, limit int) ([]models.Message, error) {
	if f.failList {
		return nil, store.Wrap("list messages", errBackend)
	}
	return f.Gateway.ListMessages(ctx, id, limit)
}

func (f *flakyStore) TouchConversation(ctx context.Context, id string) error {
	if f.failTouch {
		return store.Wrap("touch conversation", errBackend)
	}
	return f.Gateway.TouchConversation(ctx, id)
}

func (f *flakyStore) UpdateConversationTitle(ctx context.Context, id, title string) (*models.Conversation, error) {
	if f.failTitle {
		return nil, store.Wrap("update conversation title", errBackend)
	}
	return f.Gateway.UpdateConversationTitle(ctx, id, title)
}

type fakeUsage struct {
	mu      sync.Mutex
	entries []usage.Entry
	err     error
}

func (f *fakeUsage) Record(ctx context.Context, entry usage.Entry) (*usage.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	if f.err != nil {
		return nil, f.err
	}
	return &usage.Record{MessageID: entry.MessageID}, nil
}

type failingLocker struct{}

func (failingLocker) Lock(ctx context.Context, key string) (func(), error) {
	return nil, context.DeadlineExceeded
}

func newConversation(t *testing.T, gw store.Gateway) *models.Conversation {
	t.Helper()
	conv, err := gw.CreateConversation(context.Background(), "owner-1", "")
	if err != nil {
		t.Fatalf("CreateConversation returned error: %v", err)
	}
	return conv
}

func listAll(t *testing.T, gw store.Gateway, id string) []models.Message {
	t.Helper()
	msgs, err := gw.ListMessages(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("ListMessages returned error: %v", err)
	}
	return msgs
}

func roles(msgs []models.Message) []models.Role {
	out := make([]models.Role, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.Role)
	}
	return out
}

func TestGenerateResponseFirstExchange(t *testing.T) {
	mem := store.NewMemoryStore()
	conv := newConversation(t, mem)
	gen := &fakeGenerator{}
	svc := NewService(Deps{Store: mem, Generator: gen, Logger: zap.NewNop()}, Options{})

	result := svc.GenerateResponse(context.Background(), conv.ID, "Hello")
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.ModelUsed != selector.Select("Hello") {
		t.Fatalf("expected model %s, got %s", selector.Select("Hello"), result.ModelUsed)
	}
	if result.ModelInfo == nil || result.ModelInfo.ID != result.ModelUsed {
		t.Fatalf("expected model info for %s, got %+v", result.ModelUsed, result.ModelInfo)
	}
	if result.FailedStage != StageDone || result.Error != "" {
		t.Fatalf("unexpected failure fields %+v", result)
	}

	msgs := listAll(t, mem, conv.ID)
	if diff := cmp.Diff([]models.Role{models.RoleUser, models.RoleAssistant}, roles(msgs)); diff != "" {
		t.Fatalf("unexpected persisted roles (-want +got):\n%s", diff)
	}
	if msgs[0].Content != "Hello" || msgs[0].ModelID != "" {
		t.Fatalf("unexpected user message %+v", msgs[0])
	}
	if msgs[1].ModelID != string(result.ModelUsed) {
		t.Fatalf("assistant message model %q, want %q", msgs[1].ModelID, result.ModelUsed)
	}
	if result.AssistantMessage == nil || result.AssistantMessage.ID != msgs[1].ID {
		t.Fatalf("result assistant message does not match the stored one")
	}
	if result.UserMessage == nil || result.UserMessage.ID != msgs[0].ID {
		t.Fatalf("result user message does not match the stored one")
	}

	updated, err := mem.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("GetConversation returned error: %v", err)
	}
	if updated.Title != "Hello" {
		t.Fatalf("expected title Hello, got %q", updated.Title)
	}
	if !updated.UpdatedAt.After(conv.UpdatedAt) {
		t.Fatalf("expected conversation to be touched")
	}
}

func TestGenerateResponsePromptAssembly(t *testing.T) {
	mem := store.NewMemoryStore()
	conv := newConversation(t, mem)
	gen := &fakeGenerator{}
	svc := NewService(Deps{Store: mem, Generator: gen}, Options{SystemPrompt: "Be brief."})

	if r := svc.GenerateResponse(context.Background(), conv.ID, "Hello"); !r.Success {
		t.Fatalf("first exchange failed: %+v", r)
	}
	if r := svc.GenerateResponse(context.Background(), conv.ID, "Debug this Python code"); !r.Success {
		t.Fatalf("second exchange failed: %+v", r)
	}

	want := []generation.Message{
		{Role: models.RoleSystem, Content: "Be brief."},
		{Role: models.RoleUser, Content: "Hello"},
		{Role: models.RoleAssistant, Content: "Hi! How can I help?"},
		{Role: models.RoleUser, Content: "Debug this Python code"},
	}
	if diff := cmp.Diff(want, gen.lastCall(t)); diff != "" {
		t.Fatalf("unexpected prompt (-want +got):\n%s", diff)
	}
	if gen.models[1] != catalog.GPT41 {
		t.Fatalf("expected routing on the raw user text, got %s", gen.models[1])
	}

	for _, msg := range listAll(t, mem, conv.ID) {
		if msg.Role == models.RoleSystem {
			t.Fatalf("system prompt must not be persisted")
		}
	}
}

func TestGenerateResponseKeepsStoredSystemMessage(t *testing.T) {
	mem := store.NewMemoryStore()
	conv := newConversation(t, mem)
	if _, err := mem.AppendMessage(context.Background(), store.NewMessage{ConversationID: conv.ID, Role: models.RoleSystem, Content: "Answer in French."}); err != nil {
		t.Fatalf("AppendMessage returned error: %v", err)
	}
	gen := &fakeGenerator{}
	svc := NewService(Deps{Store: mem, Generator: gen}, Options{})

	if r := svc.GenerateResponse(context.Background(), conv.ID, "Hello"); !r.Success {
		t.Fatalf("exchange failed: %+v", r)
	}

	prompt := gen.lastCall(t)
	if len(prompt) != 2 || prompt[0].Content != "Answer in French." {
		t.Fatalf("expected stored system message without a synthesized one, got %+v", prompt)
	}
}

func TestGenerateResponseHistoryWindow(t *testing.T) {
	mem := store.NewMemoryStore()
	conv := newConversation(t, mem)
	for i := 0; i < 10; i++ {
		msg := store.NewMessage{ConversationID: conv.ID, Role: models.RoleUser, Content: "old"}
		if _, err := mem.AppendMessage(context.Background(), msg); err != nil {
			t.Fatalf("AppendMessage returned error: %v", err)
		}
	}

	gen := &fakeGenerator{}
	svc := NewService(Deps{Store: mem, Generator: gen}, Options{HistoryLimit: 3})

	if r := svc.GenerateResponse(context.Background(), conv.ID, "newest"); !r.Success {
		t.Fatalf("exchange failed: %+v", r)
	}

	prompt := gen.lastCall(t)
	if len(prompt) != 4 {
		t.Fatalf("expected system prompt plus 3 recent messages, got %d", len(prompt))
	}
	if prompt[3].Content != "newest" {
		t.Fatalf("expected the just-stored message last, got %q", prompt[3].Content)
	}

	updated, _ := mem.GetConversation(context.Background(), conv.ID)
	if updated.Title != "New Chat" {
		t.Fatalf("long conversations must not be retitled, got %q", updated.Title)
	}
}

func TestGenerateResponseRetitlesOnlyFirstExchange(t *testing.T) {
	mem := store.NewMemoryStore()
	conv := newConversation(t, mem)
	svc := NewService(Deps{Store: mem, Generator: &fakeGenerator{}}, Options{})

	first := "Write a haiku about the sea, please, with some waves in it"
	if r := svc.GenerateResponse(context.Background(), conv.ID, first); !r.Success {
		t.Fatalf("first exchange failed: %+v", r)
	}
	afterFirst, _ := mem.GetConversation(context.Background(), conv.ID)
	if afterFirst.Title != DeriveTitle(first, 40) {
		t.Fatalf("unexpected title %q", afterFirst.Title)
	}
	if r := svc.GenerateResponse(context.Background(), conv.ID, "Another topic entirely"); !r.Success {
		t.Fatalf("second exchange failed: %+v", r)
	}

	afterSecond, _ := mem.GetConversation(context.Background(), conv.ID)
	if afterSecond.Title != afterFirst.Title {
		t.Fatalf("title changed on second exchange: %q", afterSecond.Title)
	}
	if !afterSecond.UpdatedAt.After(afterFirst.UpdatedAt) {
		t.Fatalf("expected every exchange to touch the conversation")
	}
}

func TestGenerateResponseSmallHistoryWindowRetitlesOnce(t *testing.T) {
	mem := store.NewMemoryStore()
	conv := newConversation(t, mem)
	svc := NewService(Deps{Store: mem, Generator: &fakeGenerator{}}, Options{HistoryLimit: 2})

	for _, text := range []string{"  First question  ", "Second question", "Third question"} {
		if r := svc.GenerateResponse(context.Background(), conv.ID, text); !r.Success {
			t.Fatalf("exchange %q failed: %+v", text, r)
		}
	}

	updated, err := mem.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("GetConversation returned error: %v", err)
	}
	if updated.Title != "  First question  " {
		t.Fatalf("expected the first message verbatim as the only title, got %q", updated.Title)
	}
}

func TestGenerateResponseBlankInput(t *testing.T) {
	mem := store.NewMemoryStore()
	conv := newConversation(t, mem)
	gen := &fakeGenerator{}
	svc := NewService(Deps{Store: mem, Generator: gen}, Options{})

	result := svc.GenerateResponse(context.Background(), conv.ID, "  \n\t ")
	if result.Success || result.Error != ReasonMessageRequired || result.FailedStage != StageValidate {
		t.Fatalf("unexpected result %+v", result)
	}
	if n := len(listAll(t, mem, conv.ID)); n != 0 {
		t.Fatalf("expected nothing persisted, found %d messages", n)
	}
	if len(gen.calls) != 0 {
		t.Fatalf("generator must not be called for blank input")
	}
}

func TestGenerateResponseGenerationFailureKeepsUserMessage(t *testing.T) {
	mem := store.NewMemoryStore()
	conv := newConversation(t, mem)
	genErr := &generation.Error{Model: catalog.GPT4o, StatusCode: 500, Err: generation.ErrProvider}
	svc := NewService(Deps{Store: mem, Generator: &fakeGenerator{err: genErr}}, Options{})

	result := svc.GenerateResponse(context.Background(), conv.ID, "Hello")
	if result.Success || result.Error != ReasonGenerateResponse || result.FailedStage != StageGenerate {
		t.Fatalf("unexpected result %+v", result)
	}
	if !generation.IsGenerationError(result.Cause) {
		t.Fatalf("expected generation error cause, got %v", result.Cause)
	}
	if result.AssistantMessage != nil {
		t.Fatalf("no assistant message expected")
	}

	msgs := listAll(t, mem, conv.ID)
	if len(msgs) != 1 || msgs[0].Role != models.RoleUser || msgs[0].Content != "Hello" {
		t.Fatalf("expected the user message to be retained, got %+v", msgs)
	}
	if result.UserMessage == nil || result.UserMessage.ID != msgs[0].ID {
		t.Fatalf("expected failure result to report the stored user message")
	}

	updated, _ := mem.GetConversation(context.Background(), conv.ID)
	if updated.Title != models.DefaultConversationTitle {
		t.Fatalf("title must not change on failure, got %q", updated.Title)
	}
}

func TestGenerateResponseStoreFailures(t *testing.T) {
	cases := []struct {
		name       string
		flaky      flakyStore
		wantReason string
		wantStage  Stage
		wantStored []models.Role
		wantGen    bool
	}{
		{
			name:       "persist user",
			flaky:      flakyStore{failAppendRole: models.RoleUser},
			wantReason: ReasonSaveUserMessage,
			wantStage:  StagePersistUser,
			wantStored: []models.Role{},
		},
		{
			name:       "fetch history",
			flaky:      flakyStore{failList: true},
			wantReason: ReasonLoadHistory,
			wantStage:  StageFetchHistory,
			wantStored: []models.Role{models.RoleUser},
		},
		{
			name:       "persist assistant",
			flaky:      flakyStore{failAppendRole: models.RoleAssistant},
			wantReason: ReasonSaveAssistantMessage,
			wantStage:  StagePersistAssistant,
			wantStored: []models.Role{models.RoleUser},
			wantGen:    true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mem := store.NewMemoryStore()
			conv := newConversation(t, mem)
			flaky := tc.flaky
			flaky.Gateway = mem
			gen := &fakeGenerator{}
			svc := NewService(Deps{Store: &flaky, Generator: gen}, Options{})

			result := svc.GenerateResponse(context.Background(), conv.ID, "Hello")
			if result.Success || result.Error != tc.wantReason || result.FailedStage != tc.wantStage {
				t.Fatalf("unexpected result %+v", result)
			}
			if !errors.Is(result.Cause, errBackend) || !store.IsStoreError(result.Cause) {
				t.Fatalf("expected tagged store error cause, got %v", result.Cause)
			}
			if diff := cmp.Diff(tc.wantStored, roles(listAll(t, mem, conv.ID))); diff != "" {
				t.Fatalf("unexpected stored roles (-want +got):\n%s", diff)
			}
			if called := len(gen.calls) > 0; called != tc.wantGen {
				t.Fatalf("generator called = %v, want %v", called, tc.wantGen)
			}
		})
	}
}

func TestGenerateResponseUnknownConversation(t *testing.T) {
	svc := NewService(Deps{Store: store.NewMemoryStore(), Generator: &fakeGenerator{}}, Options{})

	result := svc.GenerateResponse(context.Background(), "missing", "Hello")
	if result.Error != ReasonSaveUserMessage || !errors.Is(result.Cause, store.ErrNotFound) {
		t.Fatalf("expected not found at persist user, got %+v", result)
	}
}

func TestGenerateResponseSwallowsCosmeticFailures(t *testing.T) {
	mem := store.NewMemoryStore()
	conv := newConversation(t, mem)
	flaky := &flakyStore{Gateway: mem, failTouch: true, failTitle: true}
	recorder := &fakeUsage{err: errors.New("ledger offline")}
	gen := &fakeGenerator{usage: &generation.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}}
	svc := NewService(Deps{Store: flaky, Generator: gen, Usage: recorder}, Options{})

	result := svc.GenerateResponse(context.Background(), conv.ID, "Hello")
	if !result.Success {
		t.Fatalf("title, touch and usage failures must not fail the exchange: %+v", result)
	}
	if n := len(listAll(t, mem, conv.ID)); n != 2 {
		t.Fatalf("expected 2 messages, got %d", n)
	}
}

func TestGenerateResponseRecordsUsage(t *testing.T) {
	mem := store.NewMemoryStore()
	conv := newConversation(t, mem)
	recorder := &fakeUsage{}
	counters := &generation.Usage{PromptTokens: 40, CompletionTokens: 8, TotalTokens: 48}
	svc := NewService(Deps{Store: mem, Generator: &fakeGenerator{usage: counters}, Usage: recorder}, Options{})

	result := svc.GenerateResponse(context.Background(), conv.ID, "Prove this theorem")
	if !result.Success {
		t.Fatalf("exchange failed: %+v", result)
	}
	if result.Usage == nil || result.Usage.TotalTokens != 48 {
		t.Fatalf("expected usage on result, got %+v", result.Usage)
	}

	if len(recorder.entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(recorder.entries))
	}
	entry := recorder.entries[0]
	if entry.MessageID != result.AssistantMessage.ID || entry.ConversationID != conv.ID {
		t.Fatalf("unexpected ledger keys %+v", entry)
	}
	if entry.Model.ID != catalog.O3 || entry.TotalTokens != 48 {
		t.Fatalf("unexpected ledger entry %+v", entry)
	}

	noUsage := &fakeUsage{}
	svc = NewService(Deps{Store: mem, Generator: &fakeGenerator{}, Usage: noUsage}, Options{})
	if r := svc.GenerateResponse(context.Background(), conv.ID, "again"); !r.Success {
		t.Fatalf("exchange failed: %+v", r)
	}
	if len(noUsage.entries) != 0 {
		t.Fatalf("nothing should be recorded without provider counters")
	}
}

func TestGenerateResponseBusy(t *testing.T) {
	mem := store.NewMemoryStore()
	conv := newConversation(t, mem)
	svc := NewService(Deps{Store: mem, Generator: &fakeGenerator{}, Locker: failingLocker{}}, Options{})

	result := svc.GenerateResponse(context.Background(), conv.ID, "Hello")
	if result.Success || result.Error != ReasonConversationBusy || result.FailedStage != StageAcquireLock {
		t.Fatalf("unexpected result %+v", result)
	}
	if n := len(listAll(t, mem, conv.ID)); n != 0 {
		t.Fatalf("nothing may be persisted without the lock, found %d", n)
	}
}

func TestGenerateResponseSerializesConversation(t *testing.T) {
	mem := store.NewMemoryStore()
	conv := newConversation(t, mem)
	gen := &fakeGenerator{onCall: func(context.Context) { time.Sleep(2 * time.Millisecond) }}
	svc := NewService(Deps{Store: mem, Generator: gen}, Options{})

	const submits = 8
	var wg sync.WaitGroup
	for i := 0; i < submits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r := svc.GenerateResponse(context.Background(), conv.ID, "double submit"); !r.Success {
				t.Errorf("exchange failed: %+v", r)
			}
		}()
	}
	wg.Wait()

	if gen.maxSeen != 1 {
		t.Fatalf("expected serialized generation, saw %d concurrent calls", gen.maxSeen)
	}

	msgs := listAll(t, mem, conv.ID)
	if len(msgs) != 2*submits {
		t.Fatalf("expected %d messages, got %d", 2*submits, len(msgs))
	}
	for i, msg := range msgs {
		want := models.RoleUser
		if i%2 == 1 {
			want = models.RoleAssistant
		}
		if msg.Role != want {
			t.Fatalf("message %d has role %s, want %s", i, msg.Role, want)
		}
	}
}

func TestGenerateResponseSurvivesCallerCancel(t *testing.T) {
	mem := store.NewMemoryStore()
	conv := newConversation(t, mem)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var genCtxErr error
	gen := &fakeGenerator{onCall: func(genCtx context.Context) {
		cancel()
		genCtxErr = genCtx.Err()
	}}
	svc := NewService(Deps{Store: mem, Generator: gen}, Options{})

	result := svc.GenerateResponse(ctx, conv.ID, "Hello")
	if !result.Success {
		t.Fatalf("expected exchange to complete after caller cancel, got %+v", result)
	}
	if genCtxErr != nil {
		t.Fatalf("generation context must not inherit caller cancellation, got %v", genCtxErr)
	}
}

func TestDeriveTitle(t *testing.T) {
	exactly40 := strings.Repeat("a", 40)
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "short", in: "Hello", want: "Hello"},
		{name: "verbatim", in: "  Hello there  ", want: "  Hello there  "},
		{name: "exactly forty", in: exactly40, want: exactly40},
		{name: "forty one", in: exactly40 + "b", want: exactly40 + "..."},
		{name: "runes", in: strings.Repeat("é", 45), want: strings.Repeat("é", 40) + "..."},
		{name: "leading spaces count", in: "  " + exactly40, want: "  " + exactly40[:38] + "..."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveTitle(tc.in, 40); got != tc.want {
				t.Fatalf("DeriveTitle(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestStageString(t *testing.T) {
	if StagePersistUser.String() != "persist_user" || StageDone.String() != "done" || Stage(99).String() != "unknown" {
		t.Fatalf("unexpected stage names")
	}
}
