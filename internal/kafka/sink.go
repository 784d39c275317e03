package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/yourorg/chart-datafeed/internal/model"
)

// Publisher sends one message to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

// EventSink mirrors datafeed events to a Kafka topic, keyed by chart id so
// the events of one chart stay ordered within a partition
type EventSink struct {
	publisher Publisher
	topic     string
}

// NewEventSink creates a sink publishing to topic
func NewEventSink(publisher Publisher, topic string) *EventSink {
	return &EventSink{publisher: publisher, topic: topic}
}

// HandleEvent publishes the event as JSON
func (s *EventSink) HandleEvent(ctx context.Context, event model.Event) error {
	return s.publisher.Publish(ctx, s.topic, Message{
		Key:   event.ChartID,
		Value: event,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	})
}
