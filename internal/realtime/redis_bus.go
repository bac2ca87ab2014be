package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus carries broadcasts between service instances over Redis pub/sub.
type RedisBus struct {
	log *zap.Logger
	rdb *redis.Client
}

func NewRedisBus(ctx context.Context, addr string, log *zap.Logger) (*RedisBus, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBus{log: log.Named("redis_bus"), rdb: rdb}, nil
}

func (b *RedisBus) Publish(ctx context.Context, channel string, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channel, raw).Err()
}

type redisSubscription struct {
	sub  *redis.PubSub
	out  chan Message
	once sync.Once
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := b.rdb.Subscribe(ctx, channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	s := &redisSubscription{sub: sub, out: make(chan Message, 16)}
	go func() {
		defer close(s.out)
		for m := range sub.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.log.Warn("bad redis payload", zap.String("channel", channel), zap.Error(err))
				continue
			}
			select {
			case s.out <- msg:
			default:
				b.log.Warn("dropping message; subscriber buffer full", zap.String("channel", channel))
			}
		}
	}()
	return s, nil
}

func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

// Close ends the subscription; the message channel closes once redis drains.
func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() { err = s.sub.Close() })
	return err
}
