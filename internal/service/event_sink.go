package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/yourorg/chart-datafeed/internal/model"
)

// EventSink receives chart change notifications
type EventSink interface {
	HandleEvent(ctx context.Context, event model.Event) error
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(ctx context.Context, event model.Event) error

// HandleEvent calls f(ctx, event)
func (f EventSinkFunc) HandleEvent(ctx context.Context, event model.Event) error {
	return f(ctx, event)
}

type subscription struct {
	id   uint64
	sink EventSink
}

// Subscribe registers a sink for one chart's events and returns the function
// that removes it. Calling the returned function more than once is a no-op.
func (s *DatafeedService) Subscribe(chartID string, sink EventSink) func() {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers[chartID] = append(s.subscribers[chartID], subscription{id: id, sink: sink})
	s.mu.Unlock()

	s.logger.Debug("Subscriber added", zap.String("chartID", chartID), zap.Uint64("subscriberID", id))

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subscribers[chartID] = removeSubscription(s.subscribers[chartID], id)
		if len(s.subscribers[chartID]) == 0 {
			delete(s.subscribers, chartID)
		}
	}
}

// SubscribeAll registers a sink for the events of every chart. It is not
// dropped when a chart is deleted.
func (s *DatafeedService) SubscribeAll(sink EventSink) func() {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.globalSinks = append(s.globalSinks, subscription{id: id, sink: sink})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.globalSinks = removeSubscription(s.globalSinks, id)
	}
}

// SubscriberCount returns the number of sinks registered for a chart
func (s *DatafeedService) SubscriberCount(chartID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers[chartID])
}

func removeSubscription(subs []subscription, id uint64) []subscription {
	for i, sub := range subs {
		if sub.id == id {
			out := make([]subscription, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			return append(out, subs[i+1:]...)
		}
	}
	return subs
}

// notifySubscribers delivers an event to every sink of the chart. The sink
// list is snapshotted under the global lock and the sinks run concurrently.
// Must not be called while holding a chart lock.
func (s *DatafeedService) notifySubscribers(ctx context.Context, chartID string, payload model.UpdatePayload) {
	s.mu.Lock()
	sinks := make([]subscription, 0, len(s.subscribers[chartID])+len(s.globalSinks))
	sinks = append(sinks, s.subscribers[chartID]...)
	sinks = append(sinks, s.globalSinks...)
	s.mu.Unlock()

	s.dispatch(ctx, sinks, model.Event{
		Type:          model.EventDataUpdate,
		ChartID:       chartID,
		UpdatePayload: payload,
	})
}

// notifyDeleted tells the sinks dropped with a chart that the chart is gone.
// Global sinks only receive data updates.
func (s *DatafeedService) notifyDeleted(ctx context.Context, chartID string, dropped []subscription) {
	s.dispatch(ctx, dropped, model.Event{Type: model.EventChartDeleted, ChartID: chartID})
}

// dispatch runs every sink concurrently and waits for all of them
func (s *DatafeedService) dispatch(ctx context.Context, sinks []subscription, event model.Event) {
	if len(sinks) == 0 {
		return
	}
	chartID := event.ChartID

	var wg sync.WaitGroup
	for _, sub := range sinks {
		wg.Add(1)
		go func(sub subscription) {
			defer wg.Done()
			if err := s.deliver(ctx, sub, event); err != nil {
				s.logger.Error("Subscriber failed to handle event",
					zap.Error(err),
					zap.String("chartID", chartID),
					zap.Uint64("subscriberID", sub.id),
					zap.String("eventType", event.Type))
			}
		}(sub)
	}
	wg.Wait()
}

// deliver calls one sink, turning a panic into an error
func (s *DatafeedService) deliver(ctx context.Context, sub subscription, event model.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return sub.sink.HandleEvent(ctx, event)
}
