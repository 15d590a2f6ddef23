package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wuwenbin0122/modelchat/internal/catalog"
	"github.com/wuwenbin0122/modelchat/internal/selector"
)

type previewRequest struct {
	Text string `json:"text"`
}

func (h *Handler) handleListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.catalog.List()})
}

func (h *Handler) handleGetModel(c *gin.Context) {
	info, err := h.catalog.Lookup(catalog.ModelID(c.Param("id")))
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownModel) {
			writeError(c, http.StatusNotFound, "unknown model", err)
			return
		}
		writeError(c, http.StatusInternalServerError, "failed to load model", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleRoutePreview reports where a message would be routed without generating anything.
func (h *Handler) handleRoutePreview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	decision := selector.Explain(req.Text)
	body := gin.H{
		"decision":           decision,
		"category":           decision.Category.String(),
		"reason":             decision.Reason(),
		"needsClarification": selector.NeedsClarification(req.Text),
		"needsSearch":        selector.NeedsSearch(req.Text),
	}
	if info, err := h.catalog.Lookup(decision.Model); err == nil {
		body["model"] = info
	}

	c.JSON(http.StatusOK, body)
}
