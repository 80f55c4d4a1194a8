package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const Channel = "stations:events"

var errSubscriptionClosed = errors.New("station events subscription closed")

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// subscription es la parte de *redis.PubSub que usa el bridge.
type subscription interface {
	Receive(ctx context.Context) (interface{}, error)
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// RedisBridge publica en Redis y reenvía al Hub local todo lo recibido, de
// modo que varias instancias de la API comparten el mismo feed.
type RedisBridge struct {
	client     redisPublisher
	subscribe  func(ctx context.Context) subscription
	newBackOff func() backoff.BackOff
	hub        *Hub
	logger     *zap.Logger
	subscribed atomic.Bool
}

func NewRedisBridge(client *redis.Client, hub *Hub, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{
		client: client,
		subscribe: func(ctx context.Context) subscription {
			return client.Subscribe(ctx, Channel)
		},
		hub:    hub,
		logger: logger,
	}
}

// Subscribed indica si el bridge está recibiendo del canal.
func (b *RedisBridge) Subscribed() bool {
	return b.subscribed.Load()
}

// Publish envía el evento a Redis. Mientras esta instancia no esté suscrita, o
// si Redis falla, el evento se entrega también en local.
func (b *RedisBridge) Publish(ctx context.Context, event StationEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("marshal station event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 500*time.Millisecond)
	defer cancel()
	if err := b.client.Publish(ctx, Channel, payload).Err(); err != nil {
		b.logger.Warn("redis publish failed, delivering locally", zap.Error(err))
		b.hub.Publish(ctx, event)
		return
	}
	if !b.Subscribed() {
		b.hub.Publish(ctx, event)
	}
}

// Run escucha el canal hasta que ctx se cancela y vuelve a suscribirse con
// backoff exponencial cada vez que la suscripción falla.
func (b *RedisBridge) Run(ctx context.Context) error {
	policy := b.backOff()
	for {
		err := b.listen(ctx, policy)
		if ctx.Err() != nil {
			return nil
		}
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		b.logger.Warn("station events bridge not subscribed, retrying",
			zap.Error(err),
			zap.Duration("retry_in", wait),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (b *RedisBridge) listen(ctx context.Context, policy backoff.BackOff) error {
	sub := b.subscribe(ctx)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	policy.Reset()
	b.subscribed.Store(true)
	defer b.subscribed.Store(false)
	b.logger.Info("station events bridge subscribed", zap.String("channel", Channel))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return errSubscriptionClosed
			}
			b.relay(ctx, msg.Payload)
		}
	}
}

func (b *RedisBridge) backOff() backoff.BackOff {
	if b.newBackOff != nil {
		return b.newBackOff()
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0
	policy.Reset()
	return policy
}

func (b *RedisBridge) relay(ctx context.Context, payload string) {
	var event StationEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		b.logger.Warn("discarding malformed station event", zap.Error(err))
		return
	}
	b.hub.Publish(ctx, event)
}
