package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "driveguard:job:"

// Redis implements Broker over Redis Pub/Sub so every API replica sees every job event.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger

	mu   sync.Mutex
	subs map[chan Event]*redis.PubSub
}

// NewRedis connects to url and verifies the connection.
func NewRedis(ctx context.Context, url string, logger *zap.Logger) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{rdb: rdb, logger: logger, subs: map[chan Event]*redis.PubSub{}}, nil
}

func (b *Redis) Subscribe(topic string) chan Event {
	ch := make(chan Event, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, channelPrefix+topic)
	if _, err := ps.Receive(ctx); err != nil {
		b.logger.Warn("redis subscribe failed", zap.String("topic", topic), zap.Error(err))
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer b.release(ch)
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// release closes ch once its pubsub goroutine ends.
func (b *Redis) release(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
	}
	close(ch)
}

func (b *Redis) Unsubscribe(_ string, ch chan Event) {
	b.mu.Lock()
	ps := b.subs[ch]
	b.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
}

func (b *Redis) Publish(topic string, evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, channelPrefix+topic, data).Err(); err != nil {
		b.logger.Warn("redis publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (b *Redis) Close() error {
	b.mu.Lock()
	open := make([]*redis.PubSub, 0, len(b.subs))
	for _, ps := range b.subs {
		open = append(open, ps)
	}
	b.mu.Unlock()
	for _, ps := range open {
		_ = ps.Close()
	}
	return b.rdb.Close()
}

var (
	_ Broker = (*Memory)(nil)
	_ Broker = (*Redis)(nil)
)
