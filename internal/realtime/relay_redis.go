package realtime

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const relayChannelPrefix = "comms:channel:"

// RedisRelay fans envelopes out across nodes through redis pub/sub. Every
// node, the publisher included, receives envelopes through its subscription
// and hands them to the local hub, so each subscriber sees an event once.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	log    *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisRelay(client *redis.Client, hub *Hub, log *zap.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		hub:    hub,
		log:    log.Named("realtime.relay"),
	}
}

func (r *RedisRelay) Broadcast(ctx context.Context, env Envelope) error {
	payload, err := Encode(env)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, relayChannelPrefix+env.ChannelID.String(), payload).Err()
}

// Start subscribes to every channel topic and pumps received envelopes into the hub.
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, relayChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.pubsub = pubsub
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			if !strings.HasPrefix(msg.Channel, relayChannelPrefix) {
				continue
			}
			env, err := Decode([]byte(msg.Payload))
			if err != nil {
				r.log.Warn("discarding undecodable relay payload",
					zap.String("topic", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			r.hub.Deliver(env)
		}
	}()

	r.log.Info("redis relay subscribed", zap.String("pattern", relayChannelPrefix+"*"))
	return nil
}

func (r *RedisRelay) Stop() error {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub, r.done = nil, nil
	r.mu.Unlock()
	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
