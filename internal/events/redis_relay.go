package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay mirrors locally published events to a Redis channel and delivers events published
// by other instances to the local broker.
type RedisRelay struct {
	client     *redis.Client
	broker     *Broker
	channel    string
	instanceID string
	logger     *zap.Logger

	ready  chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRedisRelay builds a relay on channel.
func NewRedisRelay(client *redis.Client, broker *Broker, channel string, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		client:     client,
		broker:     broker,
		channel:    channel,
		instanceID: uuid.NewString(),
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the first Redis subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Start hooks the relay into the broker and runs the subscriber loop until Stop.
func (r *RedisRelay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.broker.OnPublish(func(ev ChangeEvent) {
		if ctx.Err() != nil || ev.Origin != "" {
			return
		}
		r.forward(ctx, ev)
	})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

// Stop ends the subscriber loop and waits for it.
func (r *RedisRelay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *RedisRelay) forward(ctx context.Context, ev ChangeEvent) {
	ev.Origin = r.instanceID
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("marshal relay event", zap.Error(err))
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.client.Publish(pubCtx, r.channel, data).Err(); err != nil {
		r.logger.Warn("relay publish failed", zap.Error(err), zap.String("kind", string(ev.Kind)))
	}
}

func (r *RedisRelay) run(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		if err := r.listen(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("relay subscriber error", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		backoff = time.Second
	}
}

func (r *RedisRelay) listen(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	r.once.Do(func() { close(r.ready) })
	r.logger.Info("relay subscribed", zap.String("channel", r.channel))

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		var ev ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			r.logger.Warn("relay payload dropped", zap.Error(err))
			continue
		}
		if ev.Origin == r.instanceID {
			continue
		}
		r.broker.Deliver(ev)
	}
}
