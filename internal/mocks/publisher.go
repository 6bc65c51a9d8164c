package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// AuditPublisherMock satisfies the audit and event publisher interfaces
// (rabbitmq.Publisher, telemetry.Publisher).
type AuditPublisherMock struct {
	mock.Mock
}

func (m *AuditPublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *AuditPublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
