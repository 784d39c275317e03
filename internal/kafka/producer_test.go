package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/chart-datafeed/internal/model"
)

type fakeWriter struct {
	mu       sync.Mutex
	failures int
	calls    int
	messages []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failures > 0 {
		w.failures--
		return errors.New("broker unavailable")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func newTestProducer(maxRetries uint64, writer *fakeWriter) *Producer {
	p := NewProducer([]string{"localhost:9092"}, "test", maxRetries, zap.NewNop())
	p.newWriter = func(topic string) messageWriter { return writer }
	p.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return p
}

func TestProducer_RetriesTransientFailures(t *testing.T) {
	writer := &fakeWriter{failures: 2}
	p := newTestProducer(3, writer)

	err := p.Publish(context.Background(), "updates", Message{Key: "btc", Value: map[string]int{"n": 1}})
	require.NoError(t, err)

	assert.Equal(t, 3, writer.calls)
	require.Len(t, writer.messages, 1)
	assert.Equal(t, "btc", string(writer.messages[0].Key))
	assert.JSONEq(t, `{"n":1}`, string(writer.messages[0].Value))
}

func TestProducer_GivesUpAfterMaxRetries(t *testing.T) {
	writer := &fakeWriter{failures: 10}
	p := newTestProducer(2, writer)

	err := p.Publish(context.Background(), "updates", Message{Key: "btc", Value: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to updates")
	assert.Equal(t, 3, writer.calls, "first attempt plus two retries")
}

func TestProducer_MarshalErrorIsNotRetried(t *testing.T) {
	writer := &fakeWriter{}
	p := newTestProducer(3, writer)

	err := p.Publish(context.Background(), "updates", Message{Value: make(chan int)})
	require.Error(t, err)
	assert.Equal(t, 0, writer.calls)
}

func TestProducer_Close(t *testing.T) {
	writer := &fakeWriter{}
	p := newTestProducer(0, writer)
	require.NoError(t, p.Publish(context.Background(), "updates", Message{Value: 1}))

	require.NoError(t, p.Close())
	assert.True(t, writer.closed)
}

type recordingPublisher struct {
	topic string
	msg   Message
}

func (r *recordingPublisher) Publish(ctx context.Context, topic string, msg Message) error {
	r.topic = topic
	r.msg = msg
	return nil
}

func TestEventSink_PublishesEventKeyedByChart(t *testing.T) {
	pub := &recordingPublisher{}
	sink := NewEventSink(pub, "chart-data-updates")

	event := model.Event{
		Type:          model.EventDataUpdate,
		ChartID:       "btc",
		UpdatePayload: model.UpdatePayload{PaneID: 0, SeriesID: "price", Count: 2, Append: true},
	}
	require.NoError(t, sink.HandleEvent(context.Background(), event))

	assert.Equal(t, "chart-data-updates", pub.topic)
	assert.Equal(t, "btc", pub.msg.Key)
	require.Len(t, pub.msg.Headers, 1)
	assert.Equal(t, "data_update", string(pub.msg.Headers[0].Value))

	b, err := json.Marshal(pub.msg.Value)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"data_update","chartId":"btc","paneId":0,"seriesId":"price","count":2,"append":true}`, string(b))
}
