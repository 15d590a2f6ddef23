package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/modelchat/internal/auth"
	"github.com/wuwenbin0122/modelchat/internal/catalog"
	"github.com/wuwenbin0122/modelchat/internal/chat"
	"github.com/wuwenbin0122/modelchat/internal/store"
	"github.com/wuwenbin0122/modelchat/internal/usage"
)

// Responder runs one exchange. *chat.Service implements it.
type Responder interface {
	GenerateResponse(ctx context.Context, conversationID, userText string) chat.Result
}

// UsageReader exposes the ledger to the conversation routes. It is optional.
type UsageReader interface {
	TotalsByModel(ctx context.Context, conversationID string) ([]usage.Totals, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

type Deps struct {
	Auth    *auth.Service
	Store   store.Gateway
	Chat    Responder
	Catalog *catalog.Catalog
	Usage   UsageReader
	Limiter *OwnerLimiter
	Logger  *zap.Logger
}

type Handler struct {
	authService *auth.Service
	store       store.Gateway
	chat        Responder
	catalog     *catalog.Catalog
	usage       UsageReader
	limiter     *OwnerLimiter
	logger      *zap.Logger
}

func NewHandler(deps Deps) *Handler {
	h := &Handler{
		authService: deps.Auth,
		store:       deps.Store,
		chat:        deps.Chat,
		catalog:     deps.Catalog,
		usage:       deps.Usage,
		limiter:     deps.Limiter,
		logger:      deps.Logger,
	}
	if h.catalog == nil {
		h.catalog = catalog.Default()
	}
	if h.limiter == nil {
		h.limiter = NewOwnerLimiter(0, 0)
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.handleHealth)

	apiGroup := router.Group("/api")

	authGroup := apiGroup.Group("/auth")
	authGroup.POST("/register", h.handleRegister)
	authGroup.POST("/login", h.handleLogin)

	apiGroup.GET("/models", h.handleListModels)
	apiGroup.GET("/models/:id", h.handleGetModel)
	apiGroup.POST("/route/preview", h.handleRoutePreview)

	protected := apiGroup.Group("", h.requireOwner(false))
	conversations := protected.Group("/conversations")
	conversations.POST("", h.handleCreateConversation)
	conversations.GET("", h.handleListConversations)
	conversations.GET("/:id", h.handleGetConversation)
	conversations.PATCH("/:id", h.handleRenameConversation)
	conversations.DELETE("/:id", h.handleDeleteConversation)
	conversations.GET("/:id/messages", h.handleListMessages)
	conversations.POST("/:id/messages", h.rateLimited(), h.handleGenerate)
	conversations.GET("/:id/usage", h.handleUsage)

	apiGroup.GET("/ws", h.requireOwner(true), h.handleWebsocket)
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type registerRequest struct {
	Username string
	Email    string
	Password string
}

type loginRequest struct {
	Identifier string
	Password   string
}

func (h *Handler) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	result, err := h.authService.Register(c.Request.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameRequired), errors.Is(err, auth.ErrPasswordTooWeak):
			writeError(c, http.StatusBadRequest, err.Error(), err)
		case errors.Is(err, auth.ErrUserExists), errors.Is(err, auth.ErrEmailExists):
			writeError(c, http.StatusConflict, err.Error(), err)
		default:
			writeError(c, http.StatusInternalServerError, "failed to register user", err)
		}
		return
	}

	c.JSON(http.StatusCreated, newAuthResponse(result))
}

func (h *Handler) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	if req.Identifier == "" || req.Password == "" {
		writeError(c, http.StatusBadRequest, "identifier and password are required", auth.ErrInvalidCredentials)
		return
	}

	result, err := h.authService.Login(c.Request.Context(), auth.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(c, http.StatusUnauthorized, err.Error(), err)
			return
		}
		writeError(c, http.StatusInternalServerError, "failed to login", err)
		return
	}

	c.JSON(http.StatusOK, newAuthResponse(result))
}

func newAuthResponse(result *auth.AuthResult) gin.H {
	return gin.H{
		"token":     result.Token,
		"expiresAt": result.ExpiresAt.Format(time.RFC3339),
		"user":      result.User,
	}
}

func writeError(c *gin.Context, status int, message string, err error) {
	body := gin.H{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}
