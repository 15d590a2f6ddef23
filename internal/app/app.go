// Package app opens the configured backends and assembles the chat service for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/modelchat/internal/catalog"
	"github.com/wuwenbin0122/modelchat/internal/chat"
	"github.com/wuwenbin0122/modelchat/internal/db"
	"github.com/wuwenbin0122/modelchat/internal/generation"
	"github.com/wuwenbin0122/modelchat/internal/lock"
	"github.com/wuwenbin0122/modelchat/internal/store"
	"github.com/wuwenbin0122/modelchat/internal/usage"
	"github.com/wuwenbin0122/modelchat/internal/utils"
)

// App holds every long-lived dependency. Close releases them in reverse order of opening.
type App struct {
	Config  *utils.Config
	Logger  *zap.Logger
	Catalog *catalog.Catalog
	Store   store.Gateway
	Locker  lock.Locker
	Ledger  *usage.Ledger
	Chat    *chat.Service

	closers []func(context.Context) error
}

// Open connects the store, the optional lock backend and the optional usage ledger.
// When migrate is set the schema and indexes are created first.
func Open(ctx context.Context, cfg *utils.Config, logger *zap.Logger, migrate bool) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	cat, err := LoadCatalog(cfg.Chat.CatalogOverrides)
	if err != nil {
		return nil, err
	}
	a.Catalog = cat

	if err := a.openStore(ctx, migrate); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	if err := a.openLocker(ctx); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	if err := a.openLedger(ctx, migrate); err != nil {
		a.Close(context.Background())
		return nil, err
	}

	deps := chat.Deps{
		Store:     a.Store,
		Generator: generation.New(cfg.Provider, a.Catalog, logger.Named("generation")),
		Catalog:   a.Catalog,
		Locker:    a.Locker,
		Logger:    logger.Named("chat"),
	}
	if a.Ledger != nil {
		deps.Usage = a.Ledger
	}
	a.Chat = chat.NewService(deps, chat.Options{
		SystemPrompt: cfg.Chat.SystemPrompt,
		HistoryLimit: cfg.Chat.HistoryLimit,
	})

	return a, nil
}

// LoadCatalog returns the built-in catalog with the YAML overrides at path applied.
func LoadCatalog(path string) (*catalog.Catalog, error) {
	cat := catalog.Default()
	if path == "" {
		return cat, nil
	}

	overrides, err := catalog.LoadOverrides(path)
	if err != nil {
		return nil, fmt.Errorf("catalog overrides: %w", err)
	}
	return cat.WithOverrides(overrides), nil
}

func (a *App) openStore(ctx context.Context, migrate bool) error {
	switch a.Config.Store.Backend {
	case utils.StoreMemory:
		a.Logger.Warn("using in-memory conversation store; data is lost on restart")
		a.Store = store.NewMemoryStore()
		return nil

	case utils.StorePostgres:
		pg, err := db.NewPostgres(ctx, a.Config.Postgres)
		if err != nil {
			return err
		}
		a.onClose(func(context.Context) error {
			pg.Close()
			return nil
		})
		if err := pg.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: ping: %w", err)
		}
		if migrate {
			if err := pg.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("postgres: ensure schema: %w", err)
			}
		}
		a.Store = db.NewPostgresStore(pg.Pool)
		a.Logger.Info("conversation store ready", zap.String("backend", utils.StorePostgres))
		return nil

	case utils.StoreMongo:
		m, err := db.NewMongo(ctx, a.Config.Mongo)
		if err != nil {
			return err
		}
		a.onClose(m.Close)
		if migrate {
			if err := m.EnsureCollections(ctx); err != nil {
				return fmt.Errorf("mongo: ensure collections: %w", err)
			}
		}
		a.Store = db.NewMongoStore(m)
		a.Logger.Info("conversation store ready", zap.String("backend", utils.StoreMongo))
		return nil
	}

	return fmt.Errorf("unknown store backend %q", a.Config.Store.Backend)
}

func (a *App) openLocker(ctx context.Context) error {
	if a.Config.Redis.URL == "" {
		a.Locker = lock.NewKeyedMutex()
		return nil
	}

	client, err := lock.OpenRedis(ctx, a.Config.Redis.URL)
	if err != nil {
		return err
	}
	a.onClose(func(context.Context) error { return client.Close() })

	a.Locker = lock.NewRedisLocker(client, a.Config.Redis.LockTTL, a.Config.Redis.RetryInterval, a.Logger.Named("lock"))
	a.Logger.Info("conversation locks backed by redis")
	return nil
}

func (a *App) openLedger(ctx context.Context, migrate bool) error {
	if a.Config.Usage.Driver == utils.UsageDisabled {
		return nil
	}

	gormDB, err := usage.Open(a.Config.Usage.Driver, a.Config.UsageDSN())
	if err != nil {
		return err
	}
	ledger := usage.NewLedger(gormDB)
	a.onClose(func(context.Context) error { return ledger.Close() })

	if migrate {
		if err := ledger.Migrate(ctx); err != nil {
			return err
		}
	}
	a.Ledger = ledger
	a.Logger.Info("usage ledger ready", zap.String("driver", a.Config.Usage.Driver))
	return nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
