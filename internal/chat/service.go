// Package chat implements the conversation directory and the message log on top
// of the repositories, and publishes every change to the live fan-out.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-sync/internal/apperr"
	"chat-sync/internal/feed"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
	"chat-sync/internal/telemetry"
)

// CallNotice is the system message that precedes a call id in the log.
const CallNotice = "*System Message*\nA call was started. The call id follows in the next message; tap and hold it to copy."

// Auditor records security-relevant actions.
type Auditor interface {
	Emit(ctx context.Context, r telemetry.Record)
}

// Notifier tells offline recipients about new messages.
type Notifier interface {
	NotifyMessage(ctx context.Context, recipient string, m models.Message) error
}

// Deps are the collaborators of a Service. Audit and Notifier may be nil.
type Deps struct {
	Conversations repositories.ConversationRepository
	Messages      repositories.MessageRepository
	Projection    repositories.ProjectionRepository
	Publisher     feed.Publisher
	Audit         Auditor
	Notifier      Notifier
	Log           *zap.Logger
}

// Service is safe for concurrent use. It holds no per-user state.
type Service struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	projection    repositories.ProjectionRepository
	publisher     feed.Publisher
	audit         Auditor
	notifier      Notifier
	log           *zap.Logger
	tracer        trace.Tracer

	now   func() time.Time
	newID func() string
}

func NewService(deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		conversations: deps.Conversations,
		messages:      deps.Messages,
		projection:    deps.Projection,
		publisher:     deps.Publisher,
		audit:         deps.Audit,
		notifier:      deps.Notifier,
		log:           log,
		tracer:        otel.Tracer("chat-sync/chat"),
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// FindConversation returns the conversation between requester and peer.
func (s *Service) FindConversation(ctx context.Context, requester, peer string) (models.Conversation, error) {
	if requester == "" {
		return models.Conversation{}, apperr.ErrNoCurrentUser
	}
	if peer == "" || peer == requester {
		return models.Conversation{}, apperr.ErrConversationNotFound
	}
	return s.conversations.FindConversation(ctx, requester, peer)
}

// CreateConversation opens the conversation with peer and appends the first
// message. For a pair that already talks, the message lands in the existing
// conversation.
func (s *Service) CreateConversation(ctx context.Context, requester, peer string, draft models.MessageDraft) (models.Conversation, models.Message, error) {
	ctx, span := s.tracer.Start(ctx, "chat.CreateConversation")
	defer span.End()

	if requester == "" {
		return models.Conversation{}, models.Message{}, apperr.ErrNoCurrentUser
	}
	if peer == "" {
		return models.Conversation{}, models.Message{}, apperr.ErrInvalidConversationKey
	}
	if peer == requester {
		observability.IncMessageAppend("rejected")
		return models.Conversation{}, models.Message{}, apperr.ErrSelfConversation
	}
	if draft.Blank() {
		observability.IncMessageAppend("rejected")
		return models.Conversation{}, models.Message{}, apperr.ErrBlankMessage
	}

	conv, msg, created, err := s.conversations.CreateConversation(ctx, requester, peer, s.stamp(requester, draft))
	if err != nil {
		observability.IncMessageAppend("error")
		recordErr(span, err)
		return models.Conversation{}, models.Message{}, err
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID), attribute.Int64("message.seq", msg.Sequence))
	if !created {
		observability.IncMessageAppend("replayed")
		return conv, msg, nil
	}
	observability.IncMessageAppend("ok")

	kind := models.ChangeModified
	if msg.Sequence == 0 {
		kind = models.ChangeAdded
	}
	s.publish(ctx, models.ConversationChanged(kind, conv))
	s.publish(ctx, models.MessageAdded(conv, msg))
	s.notify(ctx, conv, msg)
	return conv, msg, nil
}

// Conversation returns a conversation the requester is a member of.
func (s *Service) Conversation(ctx context.Context, requester, conversationID string) (models.Conversation, error) {
	if requester == "" {
		return models.Conversation{}, apperr.ErrNoCurrentUser
	}
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.HasMember(requester) {
		return models.Conversation{}, apperr.ErrNotMember
	}
	return conv, nil
}

// ListConversations returns the requester's conversations, newest activity first.
// Malformed entries come back as apperr.ItemErrors next to the valid ones.
func (s *Service) ListConversations(ctx context.Context, requester string) ([]models.Conversation, error) {
	if requester == "" {
		return nil, apperr.ErrNoCurrentUser
	}
	return s.conversations.ListConversations(ctx, requester)
}

// DeleteConversation removes the conversation and its log. Only members may delete.
func (s *Service) DeleteConversation(ctx context.Context, requester, conversationID string) error {
	ctx, span := s.tracer.Start(ctx, "chat.DeleteConversation")
	defer span.End()

	conv, err := s.Conversation(ctx, requester, conversationID)
	if err != nil {
		recordErr(span, err)
		return err
	}
	if err := s.conversations.DeleteConversation(ctx, conversationID); err != nil {
		recordErr(span, err)
		return err
	}

	s.publish(ctx, models.ConversationChanged(models.ChangeRemoved, conv))
	if s.audit != nil {
		s.audit.Emit(ctx, telemetry.Record{Action: "conversation.deleted", ActorID: requester, ResourceID: conversationID})
	}
	return nil
}

// Append adds a message from sender. Re-sending a draft with the same id returns
// the stored message instead of appending a copy, and nothing is published or
// pushed for it a second time.
func (s *Service) Append(ctx context.Context, sender, conversationID string, draft models.MessageDraft) (models.Message, error) {
	ctx, span := s.tracer.Start(ctx, "chat.Append", trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	if draft.Blank() {
		observability.IncMessageAppend("rejected")
		return models.Message{}, apperr.ErrBlankMessage
	}
	conv, err := s.Conversation(ctx, sender, conversationID)
	if err != nil {
		recordErr(span, err)
		return models.Message{}, err
	}

	m := s.stamp(sender, draft)
	m.ConversationID = conversationID
	stored, created, err := s.messages.AppendMessage(ctx, m)
	if err != nil {
		observability.IncMessageAppend("error")
		recordErr(span, err)
		return models.Message{}, err
	}
	span.SetAttributes(attribute.Int64("message.seq", stored.Sequence), attribute.Bool("message.replayed", !created))
	if !created {
		observability.IncMessageAppend("replayed")
		return stored, nil
	}
	observability.IncMessageAppend("ok")

	s.publish(ctx, models.MessageAdded(conv, stored))
	s.publish(ctx, models.ConversationChanged(models.ChangeModified, conv.WithLatest(stored)))
	s.notify(ctx, conv, stored)
	return stored, nil
}

// FetchAll returns the whole log in sequence order. Undecodable messages come
// back as apperr.ItemErrors next to the valid ones.
func (s *Service) FetchAll(ctx context.Context, requester, conversationID string) ([]models.Message, error) {
	if _, err := s.Conversation(ctx, requester, conversationID); err != nil {
		return nil, err
	}
	return sortedLog(s.messages.ListMessages(ctx, conversationID))
}

// FetchSince returns messages with a sequence greater than afterSeq, for
// subscribers catching up after a reconnect.
func (s *Service) FetchSince(ctx context.Context, requester, conversationID string, afterSeq int64) ([]models.Message, error) {
	if _, err := s.Conversation(ctx, requester, conversationID); err != nil {
		return nil, err
	}
	return sortedLog(s.messages.ListMessagesAfter(ctx, conversationID, afterSeq))
}

// sortedLog orders a store read, keeping the valid part of a partial one.
func sortedLog(msgs []models.Message, err error) ([]models.Message, error) {
	if _, partial := apperr.AsItemErrors(err); err != nil && !partial {
		return nil, err
	}
	models.SortMessages(msgs)
	return msgs, err
}

// FetchLast returns the highest-sequence message. A summary found lagging behind
// it is moved forward on the way out.
func (s *Service) FetchLast(ctx context.Context, requester, conversationID string) (models.Message, error) {
	conv, err := s.Conversation(ctx, requester, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	last, err := s.messages.LastMessage(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}

	if conv.LatestMessage == nil || conv.LatestMessage.Sequence < last.Sequence {
		applied, err := s.projection.UpdateLatest(ctx, conversationID, last)
		switch {
		case err != nil:
			s.log.Warn("latest message catch-up failed", zap.String("conversation_id", conversationID), zap.Error(err))
		case applied:
			s.publish(ctx, models.ConversationChanged(models.ChangeModified, conv.WithLatest(last)))
		default:
			observability.IncProjectionStaleWrite()
		}
	}
	return last, nil
}

// RepairProjection recomputes the latest-message summary from the log.
func (s *Service) RepairProjection(ctx context.Context, requester, conversationID string) (models.Conversation, error) {
	if _, err := s.Conversation(ctx, requester, conversationID); err != nil {
		return models.Conversation{}, err
	}
	conv, err := s.projection.RepairLatest(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	s.publish(ctx, models.ConversationChanged(models.ChangeModified, conv))
	return conv, nil
}

// StartCall announces a call by appending a system notice followed by the bare
// call id. The two messages get consecutive sequences unless another sender
// interleaves.
func (s *Service) StartCall(ctx context.Context, requester, conversationID string) (string, []models.Message, error) {
	callID := s.newID()
	notice, err := s.Append(ctx, requester, conversationID, models.MessageDraft{Content: CallNotice})
	if err != nil {
		return "", nil, err
	}
	id, err := s.Append(ctx, requester, conversationID, models.MessageDraft{Content: callID})
	if err != nil {
		return "", []models.Message{notice}, err
	}
	return callID, []models.Message{notice, id}, nil
}

func (s *Service) stamp(sender string, draft models.MessageDraft) models.Message {
	m := models.Message{
		ID:       draft.ID,
		SenderID: sender,
		Content:  draft.Content,
		SentAt:   draft.SentAt,
	}
	if m.ID == "" {
		m.ID = s.newID()
	}
	if m.SentAt.IsZero() {
		m.SentAt = s.now()
	}
	m.SentAt = m.SentAt.UTC().Truncate(time.Microsecond)
	return m
}

// publish hands ev to the fan-out. The write already succeeded, so a failure
// here is logged and subscribers recover on their next resync.
func (s *Service) publish(ctx context.Context, ev models.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishChange(ctx, ev); err != nil {
		s.log.Warn("change publish failed",
			zap.String("conversation_id", ev.ConversationID),
			zap.String("scope", string(ev.Scope)),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}
}

// notify pushes m to every member except its sender. Failures are logged.
func (s *Service) notify(ctx context.Context, conv models.Conversation, m models.Message) {
	if s.notifier == nil {
		return
	}
	for _, member := range conv.Members {
		if member == m.SenderID {
			continue
		}
		if err := s.notifier.NotifyMessage(ctx, member, m); err != nil {
			s.log.Warn("push notification failed",
				zap.String("recipient", member),
				zap.String("message_id", m.ID),
				zap.Error(err))
		}
	}
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		span.SetAttributes(attribute.String("error.code", string(appErr.Code)))
	}
	span.SetStatus(codes.Error, err.Error())
}
