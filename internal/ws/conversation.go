// Package ws serves live subscriptions over WebSocket: one conversation's
// messages, or the caller's whole inbox.
package ws

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-sync/internal/apperr"
	"chat-sync/internal/feed"
	"chat-sync/internal/middleware"
	"chat-sync/internal/models"
)

var tracer = otel.Tracer("chat-sync/ws")

// ConversationReader is what a conversation socket reads from the chat service.
type ConversationReader interface {
	Conversation(ctx context.Context, requester, conversationID string) (models.Conversation, error)
	FetchSince(ctx context.Context, requester, conversationID string, afterSeq int64) ([]models.Message, error)
}

// ConversationHandler streams one conversation: the backlog after ?after_seq=,
// then live changes. Each message is sent once per connection.
type ConversationHandler struct {
	chat     ConversationReader
	feed     Feed
	upgrader *websocket.Upgrader
	log      *zap.Logger
}

func NewConversationHandler(chat ConversationReader, f Feed, upgrader *websocket.Upgrader, log *zap.Logger) *ConversationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if upgrader == nil {
		upgrader = NewUpgrader(nil)
	}
	return &ConversationHandler{chat: chat, feed: f, upgrader: upgrader, log: log}
}

func (h *ConversationHandler) Handle(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	afterSeq := int64(-1)
	if raw, ok := c.GetQuery("after_seq"); ok {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < -1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after_seq", "code": apperr.CodeInvalidArgument})
			return
		}
		afterSeq = parsed
	}

	ctx, span := tracer.Start(c.Request.Context(), "ws.handshake", trace.WithAttributes(
		attribute.String("ws.kind", kindConversation),
		attribute.String("conversation.id", conversationID),
	))
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString(middleware.UserIDKey)
	conv, err := h.chat.Conversation(ctx, userID, conversationID)
	if err != nil {
		span.End()
		rejectHandshake(c, err)
		return
	}

	// Subscribe before reading the backlog so nothing appended in between is lost.
	sub := h.feed.Subscribe(conversationID)
	s, err := upgrade(c, h.upgrader, kindConversation, conversationID, userID, span, h.log)
	span.End()
	if err != nil {
		sub.Cancel()
		return
	}

	msgs, err := h.chat.FetchSince(ctx, userID, conversationID, afterSeq)
	if items, partial := apperr.AsItemErrors(err); partial {
		for _, item := range items {
			s.log.Warn("skipping malformed message", zap.String("message_id", item.ID), zap.Error(item.Err))
		}
	} else if err != nil {
		s.log.Warn("backlog fetch failed", zap.Error(err))
		s.finish(ctx, sub, closeInfo{code: websocket.CloseInternalServerErr, reason: "backlog unavailable", failed: true})
		return
	}
	backlog := make([]models.ChangeEvent, 0, len(msgs))
	for _, m := range msgs {
		backlog = append(backlog, models.MessageAdded(conv, m))
	}

	timeline := feed.NewTimeline(conversationID, afterSeq)
	s.pump(ctx, sub, backlog, func(ev models.ChangeEvent) (bool, bool) {
		if ev.Scope == models.ScopeMessage {
			return timeline.Apply(ev), false
		}
		return true, ev.Kind == models.ChangeRemoved
	})
}
