package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"relay-service/internal/models"
	"relay-service/internal/outbox"
)

type BackendClientMock struct {
	mock.Mock
}

func (m *BackendClientMock) DeliverMessage(ctx context.Context, msg models.QueuedMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *BackendClientMock) CountUnread(ctx context.Context, userID string, kind models.ConversationKind) (int, error) {
	args := m.Called(ctx, userID, kind)
	return args.Int(0), args.Error(1)
}

func (m *BackendClientMock) MarkAllRead(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *BackendClientMock) FetchProfile(ctx context.Context, userID string) (models.Profile, error) {
	args := m.Called(ctx, userID)
	var profile models.Profile
	if val := args.Get(0); val != nil {
		profile = val.(models.Profile)
	}
	return profile, args.Error(1)
}

func (m *BackendClientMock) SendPush(ctx context.Context, recipientID, title, body string, data map[string]string) error {
	args := m.Called(ctx, recipientID, title, body, data)
	return args.Error(0)
}

func (m *BackendClientMock) VerifyToken(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *BackendClientMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type OutboxRepositoryMock struct {
	mock.Mock
}

func (m *OutboxRepositoryMock) Append(ctx context.Context, msg models.QueuedMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *OutboxRepositoryMock) ListPending(ctx context.Context) ([]models.QueuedMessage, error) {
	args := m.Called(ctx)
	var msgs []models.QueuedMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.QueuedMessage)
	}
	return msgs, args.Error(1)
}

func (m *OutboxRepositoryMock) ListDead(ctx context.Context) ([]models.QueuedMessage, error) {
	args := m.Called(ctx)
	var msgs []models.QueuedMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.QueuedMessage)
	}
	return msgs, args.Error(1)
}

func (m *OutboxRepositoryMock) List(ctx context.Context) ([]models.QueuedMessage, error) {
	args := m.Called(ctx)
	var msgs []models.QueuedMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.QueuedMessage)
	}
	return msgs, args.Error(1)
}

func (m *OutboxRepositoryMock) Remove(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *OutboxRepositoryMock) RecordFailure(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error {
	args := m.Called(ctx, id, lastError, nextAttemptAt)
	return args.Error(0)
}

func (m *OutboxRepositoryMock) MarkDead(ctx context.Context, id string, lastError string) error {
	args := m.Called(ctx, id, lastError)
	return args.Error(0)
}

func (m *OutboxRepositoryMock) Requeue(ctx context.Context, id string) (models.QueuedMessage, error) {
	args := m.Called(ctx, id)
	var msg models.QueuedMessage
	if val := args.Get(0); val != nil {
		msg = val.(models.QueuedMessage)
	}
	return msg, args.Error(1)
}

func (m *OutboxRepositoryMock) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *OutboxRepositoryMock) Depth(ctx context.Context) (int, int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Int(1), args.Error(2)
}

type BadgeRepositoryMock struct {
	mock.Mock
}

func (m *BadgeRepositoryMock) Load(ctx context.Context) (models.BadgeSnapshot, error) {
	args := m.Called(ctx)
	var snap models.BadgeSnapshot
	if val := args.Get(0); val != nil {
		snap = val.(models.BadgeSnapshot)
	}
	return snap, args.Error(1)
}

func (m *BadgeRepositoryMock) Save(ctx context.Context, snap models.BadgeSnapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

type ProfileRepositoryMock struct {
	mock.Mock
}

func (m *ProfileRepositoryMock) Get(ctx context.Context, userID string) (models.Profile, error) {
	args := m.Called(ctx, userID)
	var profile models.Profile
	if val := args.Get(0); val != nil {
		profile = val.(models.Profile)
	}
	return profile, args.Error(1)
}

func (m *ProfileRepositoryMock) Put(ctx context.Context, profile models.Profile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

type OutboxServiceMock struct {
	mock.Mock
}

func (m *OutboxServiceMock) Send(ctx context.Context, kind models.ConversationKind, targetID, body, attachmentRef string) (bool, models.QueuedMessage, error) {
	args := m.Called(ctx, kind, targetID, body, attachmentRef)
	var msg models.QueuedMessage
	if val := args.Get(1); val != nil {
		msg = val.(models.QueuedMessage)
	}
	return args.Bool(0), msg, args.Error(2)
}

func (m *OutboxServiceMock) Drain(ctx context.Context) outbox.DrainResult {
	args := m.Called(ctx)
	var result outbox.DrainResult
	if val := args.Get(0); val != nil {
		result = val.(outbox.DrainResult)
	}
	return result
}

func (m *OutboxServiceMock) List(ctx context.Context) ([]models.QueuedMessage, error) {
	args := m.Called(ctx)
	var msgs []models.QueuedMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.QueuedMessage)
	}
	return msgs, args.Error(1)
}

func (m *OutboxServiceMock) ListDead(ctx context.Context) ([]models.QueuedMessage, error) {
	args := m.Called(ctx)
	var msgs []models.QueuedMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.QueuedMessage)
	}
	return msgs, args.Error(1)
}

func (m *OutboxServiceMock) Requeue(ctx context.Context, id string) (models.QueuedMessage, error) {
	args := m.Called(ctx, id)
	var msg models.QueuedMessage
	if val := args.Get(0); val != nil {
		msg = val.(models.QueuedMessage)
	}
	return msg, args.Error(1)
}

func (m *OutboxServiceMock) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type BadgeReconcilerMock struct {
	mock.Mock
}

func (m *BadgeReconcilerMock) Current() models.BadgeCounts {
	args := m.Called()
	var counts models.BadgeCounts
	if val := args.Get(0); val != nil {
		counts = val.(models.BadgeCounts)
	}
	return counts
}

func (m *BadgeReconcilerMock) Refresh(ctx context.Context) {
	m.Called(ctx)
}

func (m *BadgeReconcilerMock) Clear(ctx context.Context) {
	m.Called(ctx)
}
