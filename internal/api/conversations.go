package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/modelchat/internal/chat"
	"github.com/wuwenbin0122/modelchat/internal/generation"
	"github.com/wuwenbin0122/modelchat/internal/models"
	"github.com/wuwenbin0122/modelchat/internal/store"
	"github.com/wuwenbin0122/modelchat/internal/usage"
)

const (
	defaultPageSize = 12
	maxPageSize     = 50
)

var errConversationNotFound = errors.New("conversation not found")

type conversationListResponse struct {
	Data       []models.Conversation `json:"data"`
	Pagination pagination            `json:"pagination"`
}

type pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

type titleRequest struct {
	Title string `json:"title"`
}

type generateRequest struct {
	Content string `json:"content"`
}

func (h *Handler) handleCreateConversation(c *gin.Context) {
	var req titleRequest
	// an empty body starts an untitled conversation
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid payload", err)
			return
		}
	}

	conv, err := h.store.CreateConversation(c.Request.Context(), ownerFrom(c), strings.TrimSpace(req.Title))
	if err != nil {
		h.logger.Error("create conversation failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "failed to create conversation", err)
		return
	}

	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) handleListConversations(c *gin.Context) {
	page := parsePositiveInt(c.Query("page"), 1)
	pageSize := parsePositiveInt(c.Query("page_size"), defaultPageSize)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	convs, err := h.store.ListConversations(c.Request.Context(), ownerFrom(c))
	if err != nil {
		h.logger.Error("list conversations failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "failed to list conversations", err)
		return
	}

	if convs == nil {
		convs = []models.Conversation{}
	}

	total := len(convs)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, conversationListResponse{
		Data: convs[start:end],
		Pagination: pagination{
			Page:     page,
			PageSize: pageSize,
			Total:    int64(total),
		},
	})
}

func (h *Handler) handleGetConversation(c *gin.Context) {
	conv, ok := h.ownedConversation(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) handleRenameConversation(c *gin.Context) {
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	conv, ok := h.ownedConversation(c, c.Param("id"))
	if !ok {
		return
	}

	updated, err := h.store.UpdateConversationTitle(c.Request.Context(), conv.ID, strings.TrimSpace(req.Title))
	if err != nil {
		h.writeStoreError(c, "failed to rename conversation", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) handleDeleteConversation(c *gin.Context) {
	conv, ok := h.ownedConversation(c, c.Param("id"))
	if !ok {
		return
	}

	if err := h.store.DeleteConversation(c.Request.Context(), conv.ID); err != nil {
		h.writeStoreError(c, "failed to delete conversation", err)
		return
	}

	if h.usage != nil {
		if err := h.usage.DeleteConversation(c.Request.Context(), conv.ID); err != nil {
			h.logger.Warn("delete usage records failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		}
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) handleListMessages(c *gin.Context) {
	conv, ok := h.ownedConversation(c, c.Param("id"))
	if !ok {
		return
	}

	limit := parsePositiveInt(c.Query("limit"), 0)
	msgs, err := h.store.ListMessages(c.Request.Context(), conv.ID, limit)
	if err != nil {
		h.writeStoreError(c, "failed to list messages", err)
		return
	}

	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"data": msgs})
}

func (h *Handler) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid payload"})
		return
	}

	conv, ok := h.ownedConversation(c, c.Param("id"))
	if !ok {
		return
	}

	result := h.chat.GenerateResponse(c.Request.Context(), conv.ID, req.Content)
	c.JSON(resultStatus(result), result)
}

func (h *Handler) handleUsage(c *gin.Context) {
	conv, ok := h.ownedConversation(c, c.Param("id"))
	if !ok {
		return
	}

	totals := make([]usage.Totals, 0)
	if h.usage != nil {
		var err error
		totals, err = h.usage.TotalsByModel(c.Request.Context(), conv.ID)
		if err != nil {
			h.logger.Error("load usage totals failed", zap.String("conversation_id", conv.ID), zap.Error(err))
			writeError(c, http.StatusInternalServerError, "failed to load usage", err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"conversationId": conv.ID, "enabled": h.usage != nil, "data": totals})
}

// ownedConversation loads id and answers 404 unless it belongs to the caller.
func (h *Handler) ownedConversation(c *gin.Context, id string) (*models.Conversation, bool) {
	conv, err := h.store.GetConversation(c.Request.Context(), id)
	if err != nil {
		h.writeStoreError(c, "failed to load conversation", err)
		return nil, false
	}
	if !(models.User{ID: ownerFrom(c)}).Owns(*conv) {
		writeError(c, http.StatusNotFound, errConversationNotFound.Error(), errConversationNotFound)
		return nil, false
	}
	return conv, true
}

func (h *Handler) writeStoreError(c *gin.Context, message string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(c, http.StatusNotFound, errConversationNotFound.Error(), errConversationNotFound)
		return
	}
	h.logger.Error(message, zap.Error(err))
	writeError(c, http.StatusInternalServerError, message, err)
}

// resultStatus maps an exchange outcome onto an HTTP status.
func resultStatus(result chat.Result) int {
	if result.Success {
		return http.StatusCreated
	}

	switch result.FailedStage {
	case chat.StageValidate:
		return http.StatusBadRequest
	case chat.StageAcquireLock:
		return http.StatusConflict
	case chat.StageGenerate:
		var genErr *generation.Error
		if errors.As(result.Cause, &genErr) && genErr.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}

	if errors.Is(result.Cause, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func parsePositiveInt(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}

	return value
}
