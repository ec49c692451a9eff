package ws

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-sync/internal/apperr"
	"chat-sync/internal/feed"
	"chat-sync/internal/middleware"
	"chat-sync/internal/models"
)

// InboxReader lists a user's conversations.
type InboxReader interface {
	ListConversations(ctx context.Context, requester string) ([]models.Conversation, error)
}

// InboxHandler streams the caller's conversation list: a snapshot sent as added
// events, then every change to a conversation the caller belongs to.
type InboxHandler struct {
	chat     InboxReader
	feed     Feed
	upgrader *websocket.Upgrader
	log      *zap.Logger
}

func NewInboxHandler(chat InboxReader, f Feed, upgrader *websocket.Upgrader, log *zap.Logger) *InboxHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if upgrader == nil {
		upgrader = NewUpgrader(nil)
	}
	return &InboxHandler{chat: chat, feed: f, upgrader: upgrader, log: log}
}

func (h *InboxHandler) Handle(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		rejectHandshake(c, apperr.ErrNoCurrentUser)
		return
	}

	ctx, span := tracer.Start(c.Request.Context(), "ws.handshake", trace.WithAttributes(
		attribute.String("ws.kind", kindInbox),
	))
	c.Request = c.Request.WithContext(ctx)

	sub := h.feed.SubscribeUser(userID)
	s, err := upgrade(c, h.upgrader, kindInbox, userID, userID, span, h.log)
	span.End()
	if err != nil {
		sub.Cancel()
		return
	}

	convs, err := h.chat.ListConversations(ctx, userID)
	if items, ok := apperr.AsItemErrors(err); ok {
		for _, item := range items {
			s.log.Warn("skipping malformed conversation", zap.String("conversation_id", item.ID), zap.Error(item.Err))
		}
	} else if err != nil {
		s.log.Warn("inbox snapshot failed", zap.Error(err))
		s.finish(ctx, sub, closeInfo{code: websocket.CloseInternalServerErr, reason: "snapshot unavailable", failed: true})
		return
	}

	snapshot := make([]models.ChangeEvent, 0, len(convs))
	for _, conv := range convs {
		snapshot = append(snapshot, models.ConversationChanged(models.ChangeAdded, conv))
	}

	inbox := feed.NewInbox()
	s.pump(ctx, sub, snapshot, func(ev models.ChangeEvent) (bool, bool) {
		return inbox.Apply(ev), false
	})
}
