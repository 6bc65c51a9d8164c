package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *publisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestEmitBuildsEnvelope(t *testing.T) {
	publisher := new(publisherMock)
	var captured AuditEnvelope
	publisher.On("Publish", mock.Anything, "audit.relay", mock.MatchedBy(func(event any) bool {
		envelope, ok := event.(AuditEnvelope)
		if ok {
			captured = envelope
		}
		return ok
	})).Return(nil).Once()

	emitter := NewAuditEmitter(publisher, "audit.relay", "relay-service", "test")
	userID := "u123"
	emitter.Emit(context.Background(), "WARN", "outbox entry dead-lettered", "req-1", &userID)

	require.Equal(t, 1, captured.SchemaVersion)
	assert.Equal(t, "audit_log", captured.EventType)
	assert.Equal(t, "relay-service", captured.Service)
	assert.Equal(t, "req-1", captured.RequestID)
	require.NotNil(t, captured.UserID)
	assert.Equal(t, "u123", *captured.UserID)
	assert.Equal(t, "WARN", captured.Payload.Level)
	assert.Equal(t, "outbox entry dead-lettered", captured.Payload.Text)
	publisher.AssertExpectations(t)
}

func TestEmitToleratesPublishFailure(t *testing.T) {
	publisher := new(publisherMock)
	publisher.On("Publish", mock.Anything, "audit.relay", mock.Anything).Return(assert.AnError).Once()

	emitter := NewAuditEmitter(publisher, "audit.relay", "relay-service", "test")
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "hello", "req-2", nil)
	})
	publisher.AssertExpectations(t)
}

func TestEmitNilEmitterIsSafe(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "ignored", "", nil)
	})
}
