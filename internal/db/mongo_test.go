package db_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wuwenbin0122/modelchat/internal/db"
	"github.com/wuwenbin0122/modelchat/internal/store"
	"github.com/wuwenbin0122/modelchat/internal/store/storetest"
	"github.com/wuwenbin0122/modelchat/internal/utils"
)

func TestMongoStoreConformance(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set; skipping mongo integration test")
	}

	database := "modelchat_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	m, err := db.NewMongo(context.Background(), utils.MongoConfig{
		URI:            uri,
		Database:       database,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to connect to mongo: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		_ = m.Database.Drop(ctx)
		_ = m.Close(ctx)
	})

	if err := m.EnsureCollections(context.Background()); err != nil {
		t.Fatalf("ensure collections failed: %v", err)
	}

	storetest.Run(t, func(t *testing.T) store.Gateway {
		return db.NewMongoStore(m)
	})
}
