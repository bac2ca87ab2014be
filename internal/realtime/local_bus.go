package realtime

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// LocalBus is an in-process Bus used when no Redis is configured and in tests.
// Messages only reach subscribers in the same process.
type LocalBus struct {
	mu            sync.RWMutex
	log           *zap.Logger
	subscriptions map[string]map[*localSubscription]bool
}

type localSubscription struct {
	bus     *LocalBus
	channel string
	out     chan Message
	once    sync.Once
}

func NewLocalBus(log *zap.Logger) *LocalBus {
	return &LocalBus{
		log:           log.Named("local_bus"),
		subscriptions: make(map[string]map[*localSubscription]bool),
	}
}

func (b *LocalBus) Publish(_ context.Context, channel string, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subscriptions[channel] {
		select {
		case s.out <- msg:
		default:
			b.log.Warn("dropping message; subscriber buffer full", zap.String("channel", channel))
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, channel string) (Subscription, error) {
	channel = strings.TrimSpace(channel)
	s := &localSubscription{bus: b, channel: channel, out: make(chan Message, 16)}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subscriptions[channel]
	if !ok {
		subs = make(map[*localSubscription]bool)
		b.subscriptions[channel] = subs
	}
	subs[s] = true
	return s, nil
}

func (b *LocalBus) Close() error { return nil }

func (s *localSubscription) Messages() <-chan Message { return s.out }

func (s *localSubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if subs, ok := s.bus.subscriptions[s.channel]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.bus.subscriptions, s.channel)
			}
		}
		close(s.out)
	})
	return nil
}
