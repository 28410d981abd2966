package observability

import (
	"context"
	"sync"
)

// Publisher is the broker-facing side of the AMQP mirror. rabbitmq.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

var (
	publisherMu      sync.RWMutex
	defaultPublisher Publisher
)

func SetPublisher(publisher Publisher) {
	publisherMu.Lock()
	defaultPublisher = publisher
	publisherMu.Unlock()
}

// PublishEvent mirrors an event envelope to the configured publisher. It is a no-op when none is set.
// Failures are counted by the publisher.
func PublishEvent(ctx context.Context, routingKey string, envelope EventEnvelope) error {
	publisherMu.RLock()
	publisher := defaultPublisher
	publisherMu.RUnlock()
	if publisher == nil {
		return nil
	}

	return publisher.Publish(ctx, routingKey, envelope)
}
