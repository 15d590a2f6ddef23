// Package storetest holds the behavioural checks every store.Gateway must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/wuwenbin0122/modelchat/internal/models"
	"github.com/wuwenbin0122/modelchat/internal/store"
)

// Factory returns a gateway with no conversations for owner ids used by the suite.
type Factory func(t *testing.T) store.Gateway

// Run exercises the gateway contract. Owner ids are randomised per subtest so the suite can
// run against shared databases.
func Run(t *testing.T, newGateway Factory) {
	t.Helper()

	t.Run("create defaults title", func(t *testing.T) {
		gw := newGateway(t)
		ctx := context.Background()

		conv, err := gw.CreateConversation(ctx, owner(t), "")
		if err != nil {
			t.Fatalf("CreateConversation returned error: %v", err)
		}
		if conv.Title != models.DefaultConversationTitle {
			t.Fatalf("expected %q, got %q", models.DefaultConversationTitle, conv.Title)
		}

		fetched, err := gw.GetConversation(ctx, conv.ID)
		if err != nil {
			t.Fatalf("GetConversation returned error: %v", err)
		}
		if fetched.ID != conv.ID || fetched.Title != conv.Title || fetched.OwnerID != conv.OwnerID {
			t.Fatalf("fetched conversation mismatch: %+v vs %+v", fetched, conv)
		}
	})

	t.Run("missing conversation", func(t *testing.T) {
		gw := newGateway(t)
		ctx := context.Background()
		missing := "00000000-0000-0000-0000-000000000000"

		if _, err := gw.GetConversation(ctx, missing); !errors.Is(err, store.ErrNotFound) || !store.IsStoreError(err) {
			t.Fatalf("GetConversation: expected tagged ErrNotFound, got %v", err)
		}
		if err := gw.TouchConversation(ctx, missing); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("TouchConversation: expected ErrNotFound, got %v", err)
		}
		if _, err := gw.UpdateConversationTitle(ctx, missing, "x"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("UpdateConversationTitle: expected ErrNotFound, got %v", err)
		}
		_, err := gw.AppendMessage(ctx, store.NewMessage{ConversationID: missing, Role: models.RoleUser, Content: "hi"})
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("AppendMessage: expected ErrNotFound, got %v", err)
		}
		if _, err := gw.ListMessages(ctx, missing, 0); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("ListMessages: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("messages keep insertion order", func(t *testing.T) {
		gw := newGateway(t)
		ctx := context.Background()
		conv := mustCreate(t, gw, owner(t))

		want := appendTurns(t, gw, conv.ID, 6)

		msgs, err := gw.ListMessages(ctx, conv.ID, 0)
		if err != nil {
			t.Fatalf("ListMessages returned error: %v", err)
		}
		if diff := cmp.Diff(want, contents(msgs)); diff != "" {
			t.Fatalf("unexpected order (-want +got):\n%s", diff)
		}
		for i := 1; i < len(msgs); i++ {
			if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
				t.Fatalf("timestamps decrease at %d", i)
			}
		}
		for _, msg := range msgs {
			if msg.Role == models.RoleAssistant && msg.ModelID == "" {
				t.Fatalf("assistant message lost its model id: %+v", msg)
			}
			if msg.Role == models.RoleUser && msg.ModelID != "" {
				t.Fatalf("user message carries a model id: %+v", msg)
			}
		}

		recent, err := gw.ListMessages(ctx, conv.ID, 2)
		if err != nil {
			t.Fatalf("ListMessages(limit) returned error: %v", err)
		}
		if diff := cmp.Diff(want[4:], contents(recent)); diff != "" {
			t.Fatalf("unexpected recent window (-want +got):\n%s", diff)
		}
	})

	t.Run("rejects invalid messages", func(t *testing.T) {
		gw := newGateway(t)
		conv := mustCreate(t, gw, owner(t))

		_, err := gw.AppendMessage(context.Background(), store.NewMessage{
			ConversationID: conv.ID,
			Role:           models.RoleUser,
			Content:        "hi",
			ModelID:        "gpt-4o",
		})
		if !errors.Is(err, store.ErrInvalidMessage) || !store.IsStoreError(err) {
			t.Fatalf("expected tagged ErrInvalidMessage, got %v", err)
		}
	})

	t.Run("title and touch", func(t *testing.T) {
		gw := newGateway(t)
		ctx := context.Background()
		conv := mustCreate(t, gw, owner(t))

		updated, err := gw.UpdateConversationTitle(ctx, conv.ID, "Renamed")
		if err != nil {
			t.Fatalf("UpdateConversationTitle returned error: %v", err)
		}
		if updated.Title != "Renamed" {
			t.Fatalf("expected Renamed, got %q", updated.Title)
		}
		if updated.UpdatedAt.Before(conv.UpdatedAt) {
			t.Fatalf("updatedAt moved backwards")
		}

		if err := gw.TouchConversation(ctx, conv.ID); err != nil {
			t.Fatalf("TouchConversation returned error: %v", err)
		}
		touched, err := gw.GetConversation(ctx, conv.ID)
		if err != nil {
			t.Fatalf("GetConversation returned error: %v", err)
		}
		if touched.UpdatedAt.Before(updated.UpdatedAt) {
			t.Fatalf("touch moved updatedAt backwards")
		}
		if touched.Title != "Renamed" {
			t.Fatalf("touch changed the title to %q", touched.Title)
		}
	})

	t.Run("list by owner", func(t *testing.T) {
		gw := newGateway(t)
		ctx := context.Background()
		ownerID := owner(t)

		older := mustCreate(t, gw, ownerID)
		settle()
		newer := mustCreate(t, gw, ownerID)
		otherOwner := owner(t)
		if otherOwner == ownerID {
			t.Fatalf("owner ids must differ between calls")
		}
		foreign := mustCreate(t, gw, otherOwner)
		settle()

		if _, err := gw.UpdateConversationTitle(ctx, older.ID, "bumped"); err != nil {
			t.Fatalf("UpdateConversationTitle returned error: %v", err)
		}

		convs, err := gw.ListConversations(ctx, ownerID)
		if err != nil {
			t.Fatalf("ListConversations returned error: %v", err)
		}
		if len(convs) != 2 {
			t.Fatalf("expected 2 conversations, got %d", len(convs))
		}
		if convs[0].ID != older.ID || convs[1].ID != newer.ID {
			t.Fatalf("expected most recently updated first, got %s, %s", convs[0].Title, convs[1].Title)
		}

		others, err := gw.ListConversations(ctx, otherOwner)
		if err != nil {
			t.Fatalf("ListConversations returned error: %v", err)
		}
		if len(others) != 1 || others[0].ID != foreign.ID {
			t.Fatalf("expected only the other owner's conversation, got %d", len(others))
		}
	})

	t.Run("delete cascades", func(t *testing.T) {
		gw := newGateway(t)
		ctx := context.Background()
		conv := mustCreate(t, gw, owner(t))
		appendTurns(t, gw, conv.ID, 2)

		if err := gw.DeleteConversation(ctx, conv.ID); err != nil {
			t.Fatalf("DeleteConversation returned error: %v", err)
		}
		if _, err := gw.GetConversation(ctx, conv.ID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected deleted conversation to be gone, got %v", err)
		}
		if _, err := gw.ListMessages(ctx, conv.ID, 0); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected messages to be gone, got %v", err)
		}
		if err := gw.DeleteConversation(ctx, conv.ID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on second delete, got %v", err)
		}
	})
}

// settle lets backends with millisecond timestamps observe distinct update times.
func settle() {
	time.Sleep(5 * time.Millisecond)
}

// owner returns a fresh owner id on every call.
func owner(t *testing.T) string {
	return fmt.Sprintf("owner-%s-%s", t.Name(), uuid.NewString())
}

func mustCreate(t *testing.T, gw store.Gateway, ownerID string) *models.Conversation {
	t.Helper()
	conv, err := gw.CreateConversation(context.Background(), ownerID, "")
	if err != nil {
		t.Fatalf("CreateConversation returned error: %v", err)
	}
	return conv
}

// appendTurns writes alternating user and assistant messages and returns their contents.
func appendTurns(t *testing.T, gw store.Gateway, conversationID string, n int) []string {
	t.Helper()
	var out []string
	for i := 0; i < n; i++ {
		msg := store.NewMessage{ConversationID: conversationID, Role: models.RoleUser, Content: fmt.Sprintf("turn %d", i)}
		if i%2 == 1 {
			msg.Role = models.RoleAssistant
			msg.ModelID = "gpt-4o"
		}
		if _, err := gw.AppendMessage(context.Background(), msg); err != nil {
			t.Fatalf("AppendMessage(%d) returned error: %v", i, err)
		}
		out = append(out, msg.Content)
	}
	return out
}

func contents(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.Content)
	}
	return out
}
