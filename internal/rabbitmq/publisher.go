// Package rabbitmq exports audit records and domain events to a topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"hive-chat/internal/observability"
	"hive-chat/internal/telemetry"
)

// Publisher publishes audit and domain event envelopes to a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher builds a RabbitMQ publisher, or a noop publisher when AMQP is disabled or
// unreachable at startup.
func NewPublisher(amqpURL, exchange string, logger *zap.Logger) Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if amqpURL == "" {
		logger.Info("rabbitmq disabled, using noop", zap.String("reason", "empty amqp url"))
		return noopPublisher{reason: "empty amqp url", logger: logger}
	}

	p := &amqpPublisher{url: amqpURL, exchange: exchange, logger: logger}
	if err := p.connect(); err != nil {
		logger.Warn("rabbitmq disabled, using noop", zap.Error(err))
		return noopPublisher{reason: err.Error(), logger: logger}
	}
	logger.Info("rabbitmq connected", zap.String("exchange", exchange))
	return p
}

type amqpPublisher struct {
	mu       sync.Mutex
	url      string
	exchange string
	conn     *amqp.Connection
	ch       *amqp.Channel
	logger   *zap.Logger
}

// connect dials and declares the exchange. Callers hold mu, except NewPublisher.
func (p *amqpPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	msg, err := buildPublishing(event, time.Now())
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishes
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		p.logger.Info("rabbitmq channel closed, reconnecting")
		p.closeLocked()
		if err := p.connect(); err != nil {
			observability.IncAMQPPublishError()
			return fmt.Errorf("reconnect: %w", err)
		}
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err != nil {
		observability.IncAMQPPublishError()
		p.logger.Warn("rabbitmq publish failed", zap.String("routing_key", routingKey), zap.String("type", msg.Type), zap.Error(err))
	}
	return err
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *amqpPublisher) closeLocked() error {
	var errs []error
	if p.ch != nil && !p.ch.IsClosed() {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil && !p.conn.IsClosed() {
		errs = append(errs, p.conn.Close())
	}
	p.ch, p.conn = nil, nil
	return errors.Join(errs...)
}

// buildPublishing encodes event as a persistent JSON message. The message type is
// "<event_type>.<event_name>" for domain events and the event type for audit records.
func buildPublishing(event any, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Body:         body,
	}

	var traceID string
	switch env := event.(type) {
	case observability.EventEnvelope:
		msg.Type = env.EventType + "." + env.EventName
		msg.CorrelationId = env.RequestID
		traceID = env.TraceID
	case telemetry.AuditEnvelope:
		msg.Type = env.EventType
		msg.CorrelationId = env.RequestID
		msg.AppId = env.Service
		traceID = env.TraceID
	}
	if traceID != "" {
		msg.Headers = amqp.Table{"trace_id": traceID}
	}
	return msg, nil
}

type noopPublisher struct {
	reason string
	logger *zap.Logger
}

func (p noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	fields := []zap.Field{zap.String("routing_key", routingKey)}
	switch envelope := event.(type) {
	case telemetry.AuditEnvelope:
		fields = append(fields, zap.String("event_type", envelope.EventType), zap.String("action", envelope.Payload.Action))
	case observability.EventEnvelope:
		fields = append(fields, zap.String("event_type", envelope.EventType), zap.String("event_name", envelope.EventName))
	}
	if p.logger != nil {
		p.logger.Debug("rabbitmq noop publish", fields...)
	}
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
