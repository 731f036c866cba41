package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/getmockd/chatd/pkg/logging"
)

// DefaultPrefix namespaces broker channels and subjects.
const DefaultPrefix = "chatd.conversation."

// RedisBus relays events through Redis pub/sub.
// Every replica pattern-subscribes to the prefix and republishes received
// events on its local MemoryBus.
type RedisBus struct {
	client *redis.Client
	ps     *redis.PubSub
	local  *MemoryBus
	prefix string
	logger *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRedisBus connects to url and starts relaying.
func NewRedisBus(ctx context.Context, url, prefix string, buffer int, logger *slog.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("pubsub: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub: ping redis: %w", err)
	}

	if prefix == "" {
		prefix = DefaultPrefix
	}
	ps := client.PSubscribe(ctx, prefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		_ = client.Close()
		return nil, fmt.Errorf("pubsub: subscribe redis: %w", err)
	}

	b := &RedisBus{
		client: client,
		ps:     ps,
		local:  NewMemoryBus(buffer),
		prefix: prefix,
		logger: logging.OrNop(logger).With("component", "pubsub", "backend", "redis"),
	}
	b.wg.Add(1)
	go b.run()
	return b, nil
}

func (b *RedisBus) run() {
	defer b.wg.Done()
	for msg := range b.ps.Channel() {
		topic := strings.TrimPrefix(msg.Channel, b.prefix)
		if err := b.local.deliver(topic, []byte(msg.Payload)); err != nil {
			b.logger.Warn("dropping malformed event", "channel", msg.Channel, "error", err)
		}
	}
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, topic string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("pubsub: encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+topic, data).Err(); err != nil {
		return fmt.Errorf("pubsub: redis publish: %w", err)
	}
	return nil
}

// Subscribe implements Bus.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	return b.local.Subscribe(ctx, topic)
}

// Ping checks broker connectivity.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close implements Bus.
func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.ps.Close()
		b.wg.Wait()
		_ = b.local.Close()
		if cerr := b.client.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
