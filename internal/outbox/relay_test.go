package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/mdad-elec/cv-analysis-system/internal/storage/models"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error {
	args := m.Called(ctx, exchangeName, routingKey, message, persistent)
	return args.Error(0)
}

func TestPublishBatch(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("PublishMessage", mock.Anything, "cv.direct", "cv.uploaded", []byte(`{"document_id":"a"}`), true).Return(nil).Once()
	pub.On("PublishMessage", mock.Anything, "cv.direct", "cv.uploaded", []byte(`{"document_id":"b"}`), true).Return(errors.New("connection reset")).Once()
	pub.On("PublishMessage", mock.Anything, "cv.direct", "cv.uploaded", []byte(`{"document_id":"c"}`), true).Return(errors.New("connection reset")).Once()

	messages := []models.OutboxMessage{
		{ID: 1, AggregateID: "a", Payload: `{"document_id":"a"}`, TargetExchange: "cv.direct", TargetRoutingKey: "cv.uploaded", Status: models.OutboxStatusPending},
		{ID: 2, AggregateID: "b", Payload: `{"document_id":"b"}`, TargetExchange: "cv.direct", TargetRoutingKey: "cv.uploaded", Status: models.OutboxStatusPending},
		{ID: 3, AggregateID: "c", Payload: `{"document_id":"c"}`, TargetExchange: "cv.direct", TargetRoutingKey: "cv.uploaded", Status: models.OutboxStatusPending, RetryCount: maxRetryCount - 1},
	}

	relay := NewMessageRelay(nil, pub)
	relay.publishBatch(context.Background(), messages)

	assert.Equal(t, models.OutboxStatusSent, messages[0].Status)
	assert.NotNil(t, messages[0].ProcessedAt)

	assert.Equal(t, models.OutboxStatusPending, messages[1].Status)
	assert.Equal(t, 1, messages[1].RetryCount)
	assert.Equal(t, "connection reset", messages[1].ErrorMessage)

	assert.Equal(t, models.OutboxStatusFailed, messages[2].Status)
	pub.AssertExpectations(t)
}
