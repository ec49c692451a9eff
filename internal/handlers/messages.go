package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
)

// MessageHandler serves a conversation's message log.
type MessageHandler struct {
	chat ChatService
	log  *zap.Logger
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(chat ChatService, log *zap.Logger) *MessageHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageHandler{chat: chat, log: log}
}

// ListMessages returns the log in sequence order. With ?after_seq=N only the
// messages past N are returned. Messages that could not be decoded are listed
// under "skipped".
func (h *MessageHandler) ListMessages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID := c.Param("conversation_id")
	ctx := c.Request.Context()

	var (
		msgs []models.Message
		err  error
	)
	if raw, hasCursor := c.GetQuery("after_seq"); hasCursor {
		afterSeq, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || afterSeq < -1 {
			respondError(c, apperr.InvalidArg("invalid after_seq"))
			return
		}
		msgs, err = h.chat.FetchSince(ctx, userID, conversationID, afterSeq)
	} else {
		msgs, err = h.chat.FetchAll(ctx, userID, conversationID)
	}

	skipped := []string{}
	if err != nil {
		items, partial := apperr.AsItemErrors(err)
		if !partial {
			respondError(c, err)
			return
		}
		for _, item := range items {
			h.log.Warn("skipping malformed message",
				zap.String("conversation_id", conversationID),
				zap.String("message_id", item.ID),
				zap.Error(item.Err))
			skipped = append(skipped, item.ID)
		}
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "skipped": skipped})
}

// LastMessage returns the highest-sequence message.
func (h *MessageHandler) LastMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	msg, err := h.chat.FetchLast(c.Request.Context(), userID, c.Param("conversation_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// PostMessage appends a message. Retrying with the same id returns the stored copy.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}

	msg, err := h.chat.Append(c.Request.Context(), userID, c.Param("conversation_id"), req.draft())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// StartCall posts the call notice and a fresh call id into the conversation.
func (h *MessageHandler) StartCall(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, msgs, err := h.chat.StartCall(c.Request.Context(), userID, c.Param("conversation_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"call_id": callID, "messages": msgs})
}
