package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/modelchat/internal/chat"
	"github.com/wuwenbin0122/modelchat/internal/models"
	"github.com/wuwenbin0122/modelchat/internal/store"
)

const wsWriteTimeout = 10 * time.Second

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsClientFrame struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// wsServerFrame is a chat.Result tagged with the conversation it belongs to.
type wsServerFrame struct {
	ConversationID string `json:"conversationId"`
	Status         int    `json:"status"`
	chat.Result
}

// handleWebsocket runs exchanges sent as JSON frames. Frames are handled one at a time per connection.
func (h *Handler) handleWebsocket(c *gin.Context) {
	owner := ownerFrom(c)

	conn, err := chatUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("chat websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	logger := h.logger.With(zap.String("owner_id", owner))

	for {
		var frame wsClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("chat websocket closed unexpectedly", zap.Error(err))
			}
			return
		}

		reply := h.runFrame(ctx, owner, frame)
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			logger.Warn("chat websocket write failed", zap.Error(err))
			return
		}
	}
}

func (h *Handler) runFrame(ctx context.Context, owner string, frame wsClientFrame) wsServerFrame {
	reply := wsServerFrame{ConversationID: frame.ConversationID}
	failWith := func(status int, message string) wsServerFrame {
		reply.Status = status
		reply.Result = chat.Result{Success: false, Error: message}
		return reply
	}

	id := strings.TrimSpace(frame.ConversationID)
	if id == "" {
		return failWith(http.StatusBadRequest, "conversationId is required")
	}

	conv, err := h.store.GetConversation(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return failWith(http.StatusNotFound, errConversationNotFound.Error())
	case err != nil:
		h.logger.Error("load conversation failed", zap.String("conversation_id", id), zap.Error(err))
		return failWith(http.StatusInternalServerError, "failed to load conversation")
	case !(models.User{ID: owner}).Owns(*conv):
		return failWith(http.StatusNotFound, errConversationNotFound.Error())
	}

	if !h.limiter.Allow(owner) {
		return failWith(http.StatusTooManyRequests, "Too many requests")
	}

	reply.Result = h.chat.GenerateResponse(ctx, conv.ID, frame.Content)
	reply.Status = resultStatus(reply.Result)
	return reply
}
