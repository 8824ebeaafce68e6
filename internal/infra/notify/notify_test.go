package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"marketplace/internal/domain/model"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func sampleEvent() model.OrderEvent {
	return model.OrderEvent{
		Type:       model.OrderEventPaid,
		OrderID:    "ord-1",
		UserID:     7,
		Status:     model.OrderStatusProcessing,
		PrevStatus: model.OrderStatusPending,
		Total:      decimal.RequireFromString("110"),
		OccurredAt: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaNotifier_Publish(t *testing.T) {
	w := &fakeWriter{}
	n := &KafkaNotifier{w: w}

	n.Publish(context.Background(), sampleEvent())

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "ord-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "order.paid", string(msg.Headers[0].Value))

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "order.paid", got["type"])
	assert.Equal(t, "processing", got["status"])
	assert.Equal(t, "pending", got["prevStatus"])
	assert.Equal(t, "110", got["total"])

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestKafkaNotifier_WriteErrorIsSwallowed(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	n := &KafkaNotifier{w: w}

	assert.NotPanics(t, func() { n.Publish(context.Background(), sampleEvent()) })
	assert.Empty(t, w.msgs)
}

func TestLogNotifier_Publish(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))

	n.Publish(context.Background(), sampleEvent())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "order event", line["message"])
	assert.Equal(t, "order.paid", line["event_type"])
	assert.Equal(t, "ord-1", line["order_id"])
	assert.Equal(t, "pending", line["prev_status"])
}
