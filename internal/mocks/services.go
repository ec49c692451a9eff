package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/models"
)

type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) FindConversation(ctx context.Context, requester, peer string) (models.Conversation, error) {
	args := m.Called(ctx, requester, peer)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ChatServiceMock) CreateConversation(ctx context.Context, requester, peer string, draft models.MessageDraft) (models.Conversation, models.Message, error) {
	args := m.Called(ctx, requester, peer, draft)
	var (
		conv models.Conversation
		msg  models.Message
	)
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	if val := args.Get(1); val != nil {
		msg = val.(models.Message)
	}
	return conv, msg, args.Error(2)
}

func (m *ChatServiceMock) Conversation(ctx context.Context, requester, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, requester, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ChatServiceMock) ListConversations(ctx context.Context, requester string) ([]models.Conversation, error) {
	args := m.Called(ctx, requester)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

func (m *ChatServiceMock) DeleteConversation(ctx context.Context, requester, conversationID string) error {
	args := m.Called(ctx, requester, conversationID)
	return args.Error(0)
}

func (m *ChatServiceMock) Append(ctx context.Context, sender, conversationID string, draft models.MessageDraft) (models.Message, error) {
	args := m.Called(ctx, sender, conversationID, draft)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) FetchAll(ctx context.Context, requester, conversationID string) ([]models.Message, error) {
	args := m.Called(ctx, requester, conversationID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *ChatServiceMock) FetchSince(ctx context.Context, requester, conversationID string, afterSeq int64) ([]models.Message, error) {
	args := m.Called(ctx, requester, conversationID, afterSeq)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *ChatServiceMock) FetchLast(ctx context.Context, requester, conversationID string) (models.Message, error) {
	args := m.Called(ctx, requester, conversationID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) RepairProjection(ctx context.Context, requester, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, requester, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ChatServiceMock) StartCall(ctx context.Context, requester, conversationID string) (string, []models.Message, error) {
	args := m.Called(ctx, requester, conversationID)
	var msgs []models.Message
	if val := args.Get(1); val != nil {
		msgs = val.([]models.Message)
	}
	return args.String(0), msgs, args.Error(2)
}

type ProfileResolverMock struct {
	mock.Mock
}

func (m *ProfileResolverMock) Resolve(ctx context.Context, email string) (models.Profile, error) {
	args := m.Called(ctx, email)
	var p models.Profile
	if val := args.Get(0); val != nil {
		p = val.(models.Profile)
	}
	return p, args.Error(1)
}

func (m *ProfileResolverMock) ResolveByID(ctx context.Context, id string) (models.Profile, error) {
	args := m.Called(ctx, id)
	var p models.Profile
	if val := args.Get(0); val != nil {
		p = val.(models.Profile)
	}
	return p, args.Error(1)
}

func (m *ProfileResolverMock) ResolveMany(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	args := m.Called(ctx, ids)
	var out map[string]models.Profile
	if val := args.Get(0); val != nil {
		out = val.(map[string]models.Profile)
	}
	return out, args.Error(1)
}

func (m *ProfileResolverMock) ResolveAll(ctx context.Context) ([]models.Profile, error) {
	args := m.Called(ctx)
	var out []models.Profile
	if val := args.Get(0); val != nil {
		out = val.([]models.Profile)
	}
	return out, args.Error(1)
}

func (m *ProfileResolverMock) Invalidate(ctx context.Context, users ...models.User) {
	m.Called(ctx, users)
}

type AvatarUploaderMock struct {
	mock.Mock
}

func (m *AvatarUploaderMock) Upload(ctx context.Context, userID string, r io.Reader) (string, error) {
	args := m.Called(ctx, userID, r)
	return args.String(0), args.Error(1)
}
