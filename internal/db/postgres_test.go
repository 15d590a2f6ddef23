package db_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/wuwenbin0122/modelchat/internal/db"
	"github.com/wuwenbin0122/modelchat/internal/models"
	"github.com/wuwenbin0122/modelchat/internal/store"
	"github.com/wuwenbin0122/modelchat/internal/store/storetest"
	"github.com/wuwenbin0122/modelchat/internal/utils"
)

func openPostgres(t *testing.T) *db.Postgres {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	pg, err := db.NewPostgres(context.Background(), utils.PostgresConfig{
		DSN:            dsn,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	t.Cleanup(pg.Close)

	if err := pg.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema failed: %v", err)
	}
	// second run must be a no-op
	if err := pg.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema is not idempotent: %v", err)
	}
	return pg
}

func TestPostgresStoreConformance(t *testing.T) {
	pg := openPostgres(t)

	storetest.Run(t, func(t *testing.T) store.Gateway {
		return db.NewPostgresStore(pg.Pool)
	})
}

func TestPostgresStoreCascadeRemovesRows(t *testing.T) {
	pg := openPostgres(t)
	gw := db.NewPostgresStore(pg.Pool)
	ctx := context.Background()

	conv, err := gw.CreateConversation(ctx, "cascade-owner", "cascade")
	if err != nil {
		t.Fatalf("CreateConversation returned error: %v", err)
	}
	if _, err := gw.AppendMessage(ctx, store.NewMessage{ConversationID: conv.ID, Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage returned error: %v", err)
	}

	if err := gw.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DeleteConversation returned error: %v", err)
	}

	var remaining int
	if err := pg.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM messages WHERE conversation_id = $1", conv.ID).Scan(&remaining); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected cascade delete, %d messages remain", remaining)
	}
}

func TestPostgresStoreForeignKeyMapsToNotFound(t *testing.T) {
	pg := openPostgres(t)
	gw := db.NewPostgresStore(pg.Pool)

	_, err := gw.AppendMessage(context.Background(), store.NewMessage{
		ConversationID: "does-not-exist",
		Role:           models.RoleUser,
		Content:        "orphan",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
