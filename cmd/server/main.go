package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wuwenbin0122/modelchat/internal/api"
	"github.com/wuwenbin0122/modelchat/internal/app"
	"github.com/wuwenbin0122/modelchat/internal/auth"
	"github.com/wuwenbin0122/modelchat/internal/utils"
)

func main() {
	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: failed to build: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("server stopped cleanly")
}

func run(cfg *utils.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := deps.Close(closeCtx); err != nil {
			logger.Warn("close dependencies", zap.Error(err))
		}
	}()

	authService, err := auth.NewService(cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		return err
	}

	handlerDeps := api.Deps{
		Auth:    authService,
		Store:   deps.Store,
		Chat:    deps.Chat,
		Catalog: deps.Catalog,
		Limiter: api.NewOwnerLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		Logger:  logger.Named("api"),
	}
	if deps.Ledger != nil {
		handlerDeps.Usage = deps.Ledger
	}

	router := setupRouter(api.NewHandler(handlerDeps), logger)

	// writes must outlast one provider call
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Provider.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("server listening", zap.String("addr", server.Addr), zap.String("store", cfg.Store.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
		}
		return nil
	})

	return group.Wait()
}

func setupRouter(handler *api.Handler, logger *zap.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(api.RequestLogger(logger.Named("http")), gin.Recovery())
	handler.RegisterRoutes(router)

	return router
}
