package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/models"
	"chat-sync/internal/telemetry"
)

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type ChangePublisherMock struct {
	mock.Mock
}

func (m *ChangePublisherMock) PublishChange(ctx context.Context, ev models.ChangeEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

type AuditorMock struct {
	mock.Mock
}

func (m *AuditorMock) Emit(ctx context.Context, r telemetry.Record) {
	m.Called(ctx, r)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) NotifyMessage(ctx context.Context, recipient string, msg models.Message) error {
	args := m.Called(ctx, recipient, msg)
	return args.Error(0)
}
