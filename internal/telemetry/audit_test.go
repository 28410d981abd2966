package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.opentelemetry.io/otel/trace"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func TestAuditEmitterPublishesEnvelope(t *testing.T) {
	pub := new(publisherMock)
	uid := "u1"
	var got AuditEnvelope
	pub.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(ev any) bool {
		env, ok := ev.(AuditEnvelope)
		got = env
		return ok
	})).Return(nil).Once()

	e := NewAuditEmitter(pub, "audit.chat", "hive-chat", "test", nil)
	e.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	e.Emit(context.Background(), Actor{RequestID: "req-1", UserID: &uid},
		Record{Action: "friend.request", Subject: "f-1", Text: "Friend request sent"})

	pub.AssertExpectations(t)
	assert.Equal(t, "hive-chat", got.Service)
	assert.Equal(t, "2024-05-01T12:00:00Z", got.OccurredAt)
	assert.Equal(t, LevelInfo, got.Payload.Level)
	assert.Equal(t, "f-1", got.Payload.Subject)
	assert.Equal(t, "u1", *got.UserID)
	assert.Empty(t, got.TraceID)
}

func TestAuditEmitterCarriesTraceID(t *testing.T) {
	pub := new(publisherMock)
	var got AuditEnvelope
	pub.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(ev any) bool {
		got = ev.(AuditEnvelope)
		return true
	})).Return(nil).Once()

	traceID := trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: trace.SpanID{1}})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	NewAuditEmitter(pub, "audit.chat", "hive-chat", "test", nil).
		Emit(ctx, Actor{}, Record{Level: LevelError, Action: "chat.group_create"})
	assert.Equal(t, traceID.String(), got.TraceID)
	assert.Equal(t, LevelError, got.Payload.Level)
}

func TestAuditEmitterSwallowsPublishErrors(t *testing.T) {
	pub := new(publisherMock)
	pub.On("Publish", mock.Anything, "audit.chat", mock.Anything).Return(assert.AnError).Once()

	e := NewAuditEmitter(pub, "audit.chat", "hive-chat", "test", nil)
	assert.NotPanics(t, func() {
		e.Emit(context.Background(), Actor{}, Record{Level: LevelError, Action: "chat.created"})
	})
	pub.AssertExpectations(t)
}

func TestNilAuditEmitter(t *testing.T) {
	var e *AuditEmitter
	assert.NotPanics(t, func() { e.Emit(context.Background(), Actor{}, Record{Action: "x"}) })
}
